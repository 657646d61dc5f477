// Package resolve maps module identifiers to canonical module keys.
//
// Relative identifiers ("./x", "../x") are resolved against a directory fixed
// when the Resolver is created, never against the process's current working
// directory, so a session that later calls os.Chdir keeps resolving the same
// identifiers to the same files.
package resolve

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Key is the canonical identity of a module: the absolute, cleaned path of
// the file that backs it.
type Key string

// String returns the key as a path.
func (k Key) String() string {
	return string(k)
}

// Dir returns the directory containing the module file.
func (k Key) Dir() string {
	return filepath.Dir(string(k))
}

// Ext returns the module file extension (".js", ".json", ...).
func (k Key) Ext() string {
	return filepath.Ext(string(k))
}

// ResolutionError reports an identifier that could not be mapped to a file.
type ResolutionError struct {
	// Identifier is the identifier as the user or module wrote it
	Identifier string

	// From is the directory the lookup started from
	From string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot find module %q from %s", e.Identifier, e.From)
}

// Extensions tried, in order, when an identifier names a file without one.
var Extensions = []string{".js", ".json"}

// Resolver resolves identifiers from a fixed bound directory.
type Resolver struct {
	boundDir    string
	globalPaths []string
}

// New creates a Resolver bound to dir. dir is made absolute once, here.
// globalPaths are searched for package names after the node_modules
// hierarchy (see GlobalPaths).
func New(dir string, globalPaths []string) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bound directory: %w", err)
	}
	return &Resolver{
		boundDir:    filepath.Clean(abs),
		globalPaths: globalPaths,
	}, nil
}

// BoundDir returns the directory relative identifiers are resolved against.
func (r *Resolver) BoundDir() string {
	return r.boundDir
}

// Resolve resolves identifier from the bound directory.
func (r *Resolver) Resolve(identifier string) (Key, error) {
	return r.ResolveFrom(identifier, r.boundDir)
}

// ResolveFrom resolves identifier as if required by a module living in dir.
func (r *Resolver) ResolveFrom(identifier, dir string) (Key, error) {
	if identifier == "" {
		return "", &ResolutionError{Identifier: identifier, From: dir}
	}

	var candidates []string
	switch {
	case IsRelative(identifier):
		candidates = []string{filepath.Join(dir, identifier)}
	case filepath.IsAbs(identifier):
		candidates = []string{filepath.Clean(identifier)}
	default:
		for _, searchDir := range r.SearchPaths(dir) {
			candidates = append(candidates, filepath.Join(searchDir, identifier))
		}
	}

	for _, candidate := range candidates {
		if resolved, ok := loadAsFile(candidate); ok {
			return Key(resolved), nil
		}
		if resolved, ok := loadAsDirectory(candidate); ok {
			return Key(resolved), nil
		}
	}
	return "", &ResolutionError{Identifier: identifier, From: dir}
}

// SearchPaths returns the directories searched for a package name required
// from dir: dir's node_modules hierarchy followed by the global paths.
func (r *Resolver) SearchPaths(dir string) []string {
	paths := NodeModulesPaths(dir)
	return append(paths, r.globalPaths...)
}

// IsRelative reports whether identifier starts with "./" or "../".
func IsRelative(identifier string) bool {
	return strings.HasPrefix(identifier, "./") || strings.HasPrefix(identifier, "../")
}

// NodeModulesPaths lists dir/node_modules and the node_modules directory of
// every ancestor, nearest first. Directories already named node_modules are
// not nested again.
func NodeModulesPaths(dir string) []string {
	dir = filepath.Clean(dir)
	var paths []string
	for {
		if filepath.Base(dir) != "node_modules" {
			paths = append(paths, filepath.Join(dir, "node_modules"))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return paths
}

// GlobalPaths returns the global search directories: NODE_PATH entries, then
// $HOME/.node_modules and $HOME/.node_libraries.
func GlobalPaths() []string {
	var paths []string
	for _, p := range filepath.SplitList(os.Getenv("NODE_PATH")) {
		if p != "" {
			paths = append(paths, filepath.Clean(p))
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".node_modules"),
			filepath.Join(home, ".node_libraries"),
		)
	}
	return paths
}

func loadAsFile(path string) (string, bool) {
	if isFile(path) {
		return path, true
	}
	for _, ext := range Extensions {
		if isFile(path + ext) {
			return path + ext, true
		}
	}
	return "", false
}

func loadAsDirectory(path string) (string, bool) {
	if main := packageMain(path); main != "" {
		target := filepath.Join(path, main)
		if resolved, ok := loadAsFile(target); ok {
			return resolved, true
		}
		if resolved, ok := loadIndex(target); ok {
			return resolved, true
		}
	}
	return loadIndex(path)
}

func loadIndex(dir string) (string, bool) {
	for _, ext := range Extensions {
		index := filepath.Join(dir, "index"+ext)
		if isFile(index) {
			return index, true
		}
	}
	return "", false
}

// packageMain returns the "main" field of dir/package.json, or "".
func packageMain(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Main
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
