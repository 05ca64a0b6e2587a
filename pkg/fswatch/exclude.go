package fswatch

import (
	"path"
	"path/filepath"
	"strings"
)

// Excluded returns whether `relPath` is matched by any of the patterns.
// Patterns follow rsync's rules for the common cases: a pattern without a
// slash matches any single path component, so `node_modules` excludes the
// directory wherever it appears along with everything under it. A pattern
// containing a slash is anchored to the source directory and matches the
// leading components of the path.
func Excluded(relPath string, patterns []string) bool {
	components := strings.Split(filepath.ToSlash(relPath), "/")

	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/")
		if pattern == "" {
			continue
		}

		if !strings.Contains(pattern, "/") {
			for _, component := range components {
				if ok, _ := path.Match(pattern, component); ok {
					return true
				}
			}
			continue
		}

		pattern = strings.TrimPrefix(pattern, "/")
		n := strings.Count(pattern, "/") + 1
		if len(components) < n {
			continue
		}
		if ok, _ := path.Match(pattern, strings.Join(components[:n], "/")); ok {
			return true
		}
	}
	return false
}
