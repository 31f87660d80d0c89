package layout

import (
	"fmt"
	"os"
	"strings"
)

// dirPerm matches the archive's hash-subdirectory permission bits.
const dirPerm = 0o700

// MkdirAll creates every missing ancestor of path, one path component at a
// time. EEXIST at any level is treated as success (another worker may have
// raced to create the same fan-out directory); any other error aborts and
// is returned to the caller.
//
// This is deliberately not a single call to os.MkdirAll: the per-component
// loop is what lets a concurrent racing mkdir at an intermediate level
// resolve as success rather than surfacing as an error from a later
// component, which matters under the dispatch loop's unbounded fan-out.
func MkdirAll(path string) error {
	parts := strings.Split(path, string(os.PathSeparator))
	cur := ""
	if strings.HasPrefix(path, string(os.PathSeparator)) {
		cur = string(os.PathSeparator)
	}
	for i, p := range parts {
		if p == "" {
			continue
		}
		if cur == "" || cur == string(os.PathSeparator) {
			cur = cur + p
		} else {
			cur = cur + string(os.PathSeparator) + p
		}
		if err := os.Mkdir(cur, dirPerm); err != nil && !os.IsExist(err) {
			return fmt.Errorf("layout: mkdir %q (component %d): %w", cur, i, err)
		}
	}
	return nil
}
