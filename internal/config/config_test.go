package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.Project.Root)
	require.Equal(t, filepath.Join(".grafema", "graph.db"), cfg.Store.Path)
	require.False(t, cfg.Logging.Enabled)
}

func TestLoadParsesMappings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".grafema"), 0755))

	yaml := `
project:
  root: ` + dir + `
  ignore: ["vendor/**"]
resolution:
  mappings:
    - kind: deployment
      source: billing-worker
      target: MODULE#services/billing
    - kind: call
      source: legacyHandler
      target: FUNCTION#src/legacy.ts#handler
logging:
  enabled: true
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".grafema", "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.True(t, cfg.Logging.Enabled)
	require.Equal(t, "debug", cfg.Logging.Level)

	deploys := cfg.MappingsFor("deployment")
	require.Equal(t, map[string]string{"billing-worker": "MODULE#services/billing"}, deploys)
	require.Empty(t, cfg.MappingsFor("http-request"))
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".grafema"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".grafema", "config.yaml"), []byte(":\nnot yaml ["), 0644))

	_, err := Load(dir)
	require.Error(t, err)
}
