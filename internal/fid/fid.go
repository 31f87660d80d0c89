// Package fid implements the opaque 128-bit file identifier used to name
// files in the distributed filesystem and to derive their archive paths.
package fid

import (
	"fmt"
	"strings"
)

// FID is a 128-bit file identifier: a sequence number, an object id and a
// version. It is comparable and may be used as a map key.
type FID struct {
	Sequence uint64
	OID      uint32
	Version  uint32
}

// normSeqStart is the lowest sequence number used for "normal" FIDs, as
// opposed to the legacy inode/generation-derived IGIF range below it.
const normSeqStart = 0x200000400

// IsNormal reports whether f falls in the modern FID sequence range.
func (f FID) IsNormal() bool {
	return f.Sequence >= normSeqStart
}

// IsIGIF reports whether f is in the legacy inode-and-generation-derived
// range (sequence 1 up to but not including 0x100000000, below the normal
// range).
func (f FID) IsIGIF() bool {
	return f.Sequence > 0 && f.Sequence < 0x100000000
}

// IsFile reports whether f identifies a file-like object, i.e. it is
// either a normal FID or an IGIF.
func (f FID) IsFile() bool {
	return f.IsNormal() || f.IsIGIF()
}

// String returns the canonical text form "[seq:oid:ver]", matching the
// DFID format used throughout logs and list files.
func (f FID) String() string {
	return fmt.Sprintf("[0x%x:0x%x:0x%x]", f.Sequence, f.OID, f.Version)
}

// Parse parses the canonical "[seq:oid:ver]" text form, tolerating the
// bracket-less "seq:oid:ver" form and either decimal or 0x-prefixed hex
// fields.
func Parse(s string) (FID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return FID{}, fmt.Errorf("fid: %q is not a valid FID (want seq:oid:ver)", s)
	}
	var f FID
	if _, err := fmt.Sscanf(parts[0], "0x%x", &f.Sequence); err != nil {
		if _, err := fmt.Sscanf(parts[0], "%d", &f.Sequence); err != nil {
			return FID{}, fmt.Errorf("fid: bad sequence %q: %w", parts[0], err)
		}
	}
	if _, err := fmt.Sscanf(parts[1], "0x%x", &f.OID); err != nil {
		if _, err := fmt.Sscanf(parts[1], "%d", &f.OID); err != nil {
			return FID{}, fmt.Errorf("fid: bad oid %q: %w", parts[1], err)
		}
	}
	if _, err := fmt.Sscanf(parts[2], "0x%x", &f.Version); err != nil {
		if _, err := fmt.Sscanf(parts[2], "%d", &f.Version); err != nil {
			return FID{}, fmt.Errorf("fid: bad version %q: %w", parts[2], err)
		}
	}
	return f, nil
}
