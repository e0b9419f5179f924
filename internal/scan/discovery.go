package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"grafema/internal/graph"
	"grafema/internal/logging"
	"grafema/internal/pipeline"
)

// manifests whose presence marks a directory as a service root.
var serviceManifests = []string{
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"pom.xml",
	"Gemfile",
}

// Discovery is the DISCOVERY-phase plugin: it locates service roots
// (configured explicitly or detected from package manifests) and
// creates a SERVICE node per root.
type Discovery struct{}

func (Discovery) Metadata() pipeline.Metadata {
	return pipeline.Metadata{
		Name:         "service-discovery",
		Phase:        pipeline.PhaseDiscovery,
		Priority:     10,
		CreatesNodes: []string{graph.TypeService},
	}
}

func (Discovery) Execute(ctx context.Context, pc *pipeline.Context) (pipeline.Result, error) {
	var out pipeline.Result

	root := pc.Config.Project.Root
	roots, err := serviceRoots(root, pc.Config.Project.Services)
	if err != nil {
		return out, err
	}

	for _, dir := range roots {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := filepath.Base(dir)
		if dir == "." {
			name = filepath.Base(mustAbs(root))
		}
		n := graph.Node{
			ID:   "service:" + name,
			Type: graph.TypeService,
			Name: name,
			File: filepath.ToSlash(dir),
			Line: 0,
			Metadata: map[string]interface{}{
				"root": filepath.ToSlash(dir),
			},
		}
		if err := pc.Store.AddNode(n); err != nil {
			return out, fmt.Errorf("record service %q: %w", name, err)
		}
		out.NodesCreated++
		logging.Scan("Discovered service %q at %s", name, dir)
	}
	return out, nil
}

// serviceRoots returns configured service directories, or detects them
// from manifests when none are configured. The project root itself is
// a service root for single-service repositories.
func serviceRoots(root string, configured []string) ([]string, error) {
	if len(configured) > 0 {
		out := make([]string, 0, len(configured))
		for _, dir := range configured {
			abs := filepath.Join(root, dir)
			if _, err := os.Stat(abs); err != nil {
				return nil, fmt.Errorf("configured service root %q: %w", dir, err)
			}
			out = append(out, filepath.ToSlash(dir))
		}
		return out, nil
	}

	seen := make(map[string]struct{})
	if err := probeManifests(root, seen); err != nil {
		return nil, err
	}

	if len(seen) == 0 {
		seen["."] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for dir := range seen {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out, nil
}

// probeManifests checks the root and its immediate subdirectories for
// package manifests. Deeply nested manifests belong to sub-packages,
// not services.
func probeManifests(root string, seen map[string]struct{}) error {
	check := func(dir, rel string) {
		for _, manifest := range serviceManifests {
			if _, err := os.Stat(filepath.Join(dir, manifest)); err == nil {
				seen[rel] = struct{}{}
				return
			}
		}
	}

	check(root, ".")
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, skip := alwaysSkipped[entry.Name()]; skip {
			continue
		}
		check(filepath.Join(root, entry.Name()), entry.Name())
	}
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
