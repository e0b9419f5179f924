// Package scan provides the filesystem-facing pipeline plugins:
// DISCOVERY locates service roots, INDEXING creates a module node per
// source file. Neither parses code; language analyzers build on top of
// the skeleton these two produce.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"grafema/internal/logging"
)

// File is one discovered source file.
type File struct {
	// Path is relative to the project root, slash-separated. It is the
	// stable half of module node IDs.
	Path string
	Abs  string
	Ext  string
}

// languageByExt maps source extensions to language tags recorded on
// module nodes.
var languageByExt = map[string]string{
	".go":   "go",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".rb":   "ruby",
	".java": "java",
	".kt":   "kotlin",
	".rs":   "rust",
	".cs":   "csharp",
	".php":  "php",
	".yaml": "yaml",
	".yml":  "yaml",
	".tf":   "terraform",
	".sql":  "sql",
}

// Language returns the language tag for a file, or "" when the
// extension is not a recognized source type.
func Language(ext string) string {
	return languageByExt[strings.ToLower(ext)]
}

// alwaysSkipped are directories never worth walking regardless of
// gitignore contents.
var alwaysSkipped = map[string]struct{}{
	".git":         {},
	".grafema":     {},
	"node_modules": {},
	"vendor":       {},
	".venv":        {},
	"__pycache__":  {},
}

// Walk lists source files under root, honoring the project's
// .gitignore plus the configured extra patterns.
func Walk(root string, extraIgnore []string) ([]File, error) {
	timer := logging.StartTimer(logging.CategoryScan, "Walk")
	defer timer.Stop()

	matcher := compileIgnores(root, extraIgnore)

	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are logged and skipped, not fatal.
			logging.Get(logging.CategoryScan).Warn("Skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if _, skip := alwaysSkipped[d.Name()]; skip {
				return filepath.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		ext := filepath.Ext(d.Name())
		if Language(ext) == "" {
			return nil
		}
		files = append(files, File{Path: rel, Abs: path, Ext: strings.ToLower(ext)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Scan("Walked %s: %d source files", root, len(files))
	return files, nil
}

// Dirs lists the directories worth watching for changes: root and
// every non-ignored subdirectory.
func Dirs(root string, extraIgnore []string) ([]string, error) {
	matcher := compileIgnores(root, extraIgnore)

	dirs := []string{root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if _, skip := alwaysSkipped[d.Name()]; skip {
			return filepath.SkipDir
		}
		if matcher != nil && matcher.MatchesPath(rel+"/") {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

func compileIgnores(root string, extra []string) *ignore.GitIgnore {
	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		matcher, err := ignore.CompileIgnoreFileAndLines(gitignorePath, extra...)
		if err == nil {
			return matcher
		}
		logging.Get(logging.CategoryScan).Warn("Unparseable .gitignore at %s: %v", gitignorePath, err)
	}
	if len(extra) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(extra...)
}
