package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureShadowLink idempotently maintains the path-indexed shadow symlink
// for an archived entry: "<root>/shadow/<originalPath>" pointing, via a
// relative "../"-climbing target, at "<root>/<archiveRel>". originalPath is
// the filesystem path the FID resolves to, relative to the mount (no
// leading slash required). The number of "../" steps is one per path
// component of originalPath, which climbs from the link's directory back
// up to root.
//
// If a symlink already exists at the shadow path and points at target, this
// is a no-op; if it exists and points elsewhere, it is removed and
// recreated.
func EnsureShadowLink(root, archiveRel, originalPath string) error {
	originalPath = strings.TrimPrefix(originalPath, string(os.PathSeparator))
	linkPath := filepath.Join(root, "shadow", originalPath)
	depth := strings.Count(originalPath, "/") + 1
	target := filepath.Join(strings.Repeat("../", depth), archiveRel)

	if err := MkdirAll(filepath.Dir(linkPath)); err != nil {
		return fmt.Errorf("layout: mkdir shadow dir: %w", err)
	}

	existing, err := os.Readlink(linkPath)
	if err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("layout: remove stale shadow symlink: %w", err)
		}
	}
	if err := os.Symlink(target, linkPath); err != nil {
		return fmt.Errorf("layout: symlink shadow entry: %w", err)
	}
	return nil
}
