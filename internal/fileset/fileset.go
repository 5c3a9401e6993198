// Package fileset expands file arguments and glob patterns into the ordered,
// deduplicated list of files a run will sign.
package fileset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/systmms/dsign/internal/logging"
)

// Set is an ordered set of absolute file paths.
// Order is first appearance across the expanded specs.
type Set struct {
	paths []string
	seen  map[string]struct{}
	// folded holds the files behind keys that differ only in case, so a
	// case-insensitive volume still dedups by identity.
	folded map[string][]os.FileInfo
}

// NewSet builds a set from paths, dropping duplicates.
func NewSet(paths ...string) *Set {
	s := &Set{seen: make(map[string]struct{}), folded: make(map[string][]os.FileInfo)}
	for _, p := range paths {
		s.add(p)
	}
	return s
}

func (s *Set) add(path string) bool {
	key := canonicalKey(path)
	if _, dup := s.seen[key]; dup {
		return false
	}
	if info, err := os.Stat(path); err == nil {
		fold := strings.ToLower(key)
		for _, other := range s.folded[fold] {
			if os.SameFile(info, other) {
				return false
			}
		}
		s.folded[fold] = append(s.folded[fold], info)
	}
	s.seen[key] = struct{}{}
	s.paths = append(s.paths, path)
	return true
}

// Paths returns a copy of the ordered paths
func (s *Set) Paths() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.paths...)
}

// Len returns the number of files
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.paths)
}

// Empty reports whether the set has no files
func (s *Set) Empty() bool {
	return s.Len() == 0
}

// ExpansionError reports a file argument that matched nothing.
type ExpansionError struct {
	Spec string
	Err  error
}

func (e *ExpansionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no files match %q: %v", e.Spec, e.Err)
	}
	return fmt.Sprintf("no files match %q", e.Spec)
}

func (e *ExpansionError) Unwrap() error {
	return e.Err
}

// Expander resolves file specs relative to a base directory.
type Expander struct {
	baseDir string
	logger  *logging.Logger
}

// NewExpander creates an expander rooted at baseDir.
// An empty baseDir means the current working directory.
func NewExpander(baseDir string, logger *logging.Logger) (*Expander, error) {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		baseDir = wd
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("invalid base directory %q: %w", baseDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("invalid base directory %q: %w", baseDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory %q is not a directory", baseDir)
	}

	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Expander{baseDir: abs, logger: logger}, nil
}

// BaseDir returns the absolute base directory
func (e *Expander) BaseDir() string {
	return e.baseDir
}

// Expand resolves every spec. Each spec is tried as a literal path first and
// then, if it has glob metacharacters, as a pattern. Any spec that matches
// no file fails the whole expansion.
func (e *Expander) Expand(specs []string) (*Set, error) {
	set := NewSet()

	for _, spec := range specs {
		matches, err := e.expandOne(spec)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, m := range matches {
			if set.add(m) {
				added++
			}
		}
		e.logger.Debug("Expanded %q to %d file(s) (%d new)", spec, len(matches), added)
	}

	return set, nil
}

func (e *Expander) expandOne(spec string) ([]string, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, &ExpansionError{Spec: spec, Err: errors.New("empty file argument")}
	}

	literal := e.absolute(spec)
	info, statErr := os.Stat(literal)
	if statErr == nil && info.Mode().IsRegular() {
		return []string{literal}, nil
	}

	if !hasMeta(spec) {
		if statErr == nil && info.IsDir() {
			return nil, &ExpansionError{Spec: spec, Err: errors.New("is a directory; use a pattern such as dir/**/*.dll")}
		}
		return nil, &ExpansionError{Spec: spec}
	}

	matches, err := e.glob(spec)
	if err != nil {
		return nil, &ExpansionError{Spec: spec, Err: err}
	}
	if len(matches) == 0 {
		return nil, &ExpansionError{Spec: spec}
	}
	return matches, nil
}

// glob expands spec with doublestar semantics. Relative patterns are rooted
// at the base directory; absolute patterns are split at their static prefix.
func (e *Expander) glob(spec string) ([]string, error) {
	pattern := filepath.ToSlash(spec)
	root := e.baseDir
	if filepath.IsAbs(spec) {
		var base string
		base, pattern = doublestar.SplitPattern(pattern)
		root = filepath.FromSlash(base)
	}

	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}

	found, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, err
	}
	sort.Strings(found)

	matches := make([]string, 0, len(found))
	for _, f := range found {
		matches = append(matches, filepath.Join(root, filepath.FromSlash(f)))
	}
	return matches, nil
}

func (e *Expander) absolute(spec string) string {
	if filepath.IsAbs(spec) {
		return filepath.Clean(spec)
	}
	return filepath.Join(e.baseDir, spec)
}

func hasMeta(spec string) bool {
	return strings.ContainsAny(spec, "*?[{")
}

// canonicalKey is the equality key for deduplication: the cleaned absolute
// path with symlinks resolved when possible. Only windows folds case here;
// macOS volumes may be case-sensitive, so add compares file identity instead.
func canonicalKey(path string) string {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	if resolved, err := filepath.EvalSymlinks(key); err == nil {
		key = resolved
	}
	if runtime.GOOS == "windows" {
		key = strings.ToLower(key)
	}
	return key
}
