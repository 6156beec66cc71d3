// Package ignore implements the glob-style path filter applied before any
// filesystem event is accepted into the sync pipeline (spec §4.5). It
// follows the teacher's three-layer filter cascade in internal/sync/filter.go
// (default excludes, then a user-supplied pattern file), simplified from
// OneDrive's name-validation cascade down to the plain glob matcher the
// specification calls for, using ryanuber/go-glob for pattern matching as
// the other pack repos do.
package ignore

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/ryanuber/go-glob"
)

// StateDirName is the engine's own on-disk state directory (spec §6), always
// excluded so the engine never tries to sync its own bookkeeping.
const StateDirName = ".syncengine"

// UserFileName is the optional newline-delimited pattern file at the sync
// root (spec §6 "<sync_root>/.syncignore").
const UserFileName = ".syncignore"

// defaultPatterns excludes version-control metadata, common OS artifacts,
// and temp files (spec §4.5 "Defaults include version-control metadata, OS
// artifacts, temp files, and the engine's own state directory").
var defaultPatterns = []string{
	".git", ".git/*",
	".svn", ".svn/*",
	".hg", ".hg/*",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.tmp",
	"*.partial",
	"~*",
	StateDirName, StateDirName + "/*",
}

// Matcher evaluates whether a relative path should be excluded from sync.
type Matcher struct {
	syncRoot string

	mu       gosync.RWMutex
	patterns []string
}

// New builds a Matcher rooted at syncRoot, loading the user pattern file at
// syncRoot/.syncignore if present. The default pattern set is always active
// and cannot be disabled.
func New(syncRoot string) (*Matcher, error) {
	m := &Matcher{
		syncRoot: syncRoot,
		patterns: append([]string{}, defaultPatterns...),
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	return m, nil
}

// Reload re-reads the user pattern file, picking up edits made while the
// engine is running.
func (m *Matcher) Reload() error {
	return m.reload()
}

func (m *Matcher) reload() error {
	userPatterns, err := readPatternFile(filepath.Join(m.syncRoot, UserFileName))
	if err != nil {
		return err
	}

	all := make([]string, 0, len(defaultPatterns)+len(userPatterns))
	all = append(all, defaultPatterns...)
	all = append(all, userPatterns...)

	m.mu.Lock()
	m.patterns = all
	m.mu.Unlock()

	return nil
}

// Ignored reports whether relPath (slash-separated, relative to the sync
// root) should be excluded. isSymlink must reflect a lstat of the path, not
// a stat — every symbolic link is ignored regardless of pattern (spec §3
// "symbolic links always ignored", §8 property 8).
func (m *Matcher) Ignored(relPath string, isSymlink bool) bool {
	if isSymlink {
		return true
	}

	relPath = filepath.ToSlash(relPath)
	base := filepath.Base(relPath)

	m.mu.RLock()
	patterns := m.patterns
	m.mu.RUnlock()

	for _, pattern := range patterns {
		if matchesPattern(pattern, relPath, base) {
			return true
		}
	}

	return false
}

// matchesPattern checks pattern against both the full relative path and the
// final path component, so a bare pattern like "*.tmp" or "node_modules"
// matches anywhere in the tree, the way .gitignore-style tools behave.
func matchesPattern(pattern, fullPath, base string) bool {
	if glob.Glob(pattern, fullPath) {
		return true
	}

	if glob.Glob(pattern, base) {
		return true
	}

	// A pattern ending in "/*" also excludes the directory itself, not just
	// its children, matching the defaultPatterns entries above.
	if dir, ok := strings.CutSuffix(pattern, "/*"); ok {
		return glob.Glob(dir, fullPath) || glob.Glob(dir, base)
	}

	return false
}

func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("ignore: reading %s: %w", path, err)
	}
	defer f.Close()

	var patterns []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		patterns = append(patterns, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ignore: scanning %s: %w", path, err)
	}

	return patterns, nil
}

// IgnoredEntry is a convenience for callers walking the filesystem with
// fs.WalkDir, deriving isSymlink from the entry's file mode.
func (m *Matcher) IgnoredEntry(relPath string, entry fs.DirEntry) bool {
	return m.Ignored(relPath, entry.Type()&fs.ModeSymlink != 0)
}
