// Package layout maps file identifiers to archive paths and filesystem
// paths, and manages the on-disk side-car files (layout blobs, shadow
// symlinks) that accompany each archived entry.
package layout

import (
	"fmt"
	"path/filepath"

	"github.com/coldtier/hsmcopytool/internal/fid"
)

// dotName is the reserved directory the filesystem mount exposes for
// FID-indexed access, mirroring Lustre's ".lustre/fid/<FID>" convention.
const dotName = ".lustre"

// noBrace renders f without the enclosing brackets, as used inside paths
// and coordinator trace messages.
func noBrace(f fid.FID) string {
	return fmt.Sprintf("0x%x:0x%x:0x%x", f.Sequence, f.OID, f.Version)
}

// ArchivePath returns the archive-root-relative path an entry for f is
// stored at: a balanced six-level fan-out of the oid||sequence key followed
// by the FID's text form without brackets. The mapping is a total, injective function
// of (root, f); it must stay byte-for-byte stable across rewrites so that
// pre-existing archives remain addressable.
func ArchivePath(root string, f fid.FID) string {
	return filepath.Join(root,
		fmt.Sprintf("%04x", f.OID&0xffff),
		fmt.Sprintf("%04x", (f.OID>>16)&0xffff),
		fmt.Sprintf("%04x", f.Sequence&0xffff),
		fmt.Sprintf("%04x", (f.Sequence>>16)&0xffff),
		fmt.Sprintf("%04x", (f.Sequence>>32)&0xffff),
		fmt.Sprintf("%04x", (f.Sequence>>48)&0xffff),
		noBrace(f),
	)
}

// LustrePath returns the path under the filesystem mount point that
// resolves to f via the FID-indexed access point, independent of f's
// current link name.
func LustrePath(mnt string, f fid.FID) string {
	return filepath.Join(mnt, dotName, "fid", noBrace(f))
}
