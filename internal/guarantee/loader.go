package guarantee

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"grafema/internal/logging"
)

// guaranteeFile is the on-disk declaration format.
type guaranteeFile struct {
	Guarantees []Guarantee `yaml:"guarantees"`
}

// LoadDir reads every guarantee declared in .yaml/.yml files under
// path (a file path loads just that file). A malformed file fails the
// whole load: a half-loaded guarantee set silently skips checks.
func LoadDir(set *Set, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.GuaranteeDebug("Guarantee path %s does not exist, skipping", path)
			return 0, nil
		}
		return 0, err
	}

	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return 0, err
		}
		files = files[:0]
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if ext == ".yaml" || ext == ".yml" {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(files)
	}

	loaded := 0
	for _, file := range files {
		n, err := loadFile(set, file)
		if err != nil {
			return loaded, err
		}
		loaded += n
	}
	return loaded, nil
}

func loadFile(set *Set, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var doc guaranteeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range doc.Guarantees {
		doc.Guarantees[i].Source = path
		if err := set.Add(doc.Guarantees[i]); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	logging.GuaranteeDebug("Loaded %d guarantee(s) from %s", len(doc.Guarantees), path)
	return len(doc.Guarantees), nil
}
