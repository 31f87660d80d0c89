package layout

import (
	"testing"

	"github.com/coldtier/hsmcopytool/internal/fid"
	"github.com/stretchr/testify/assert"
)

func TestArchivePathDeterministic(t *testing.T) {
	f := fid.FID{Sequence: 0x200000403, OID: 0xdead, Version: 1}
	a := ArchivePath("/archive", f)
	b := ArchivePath("/archive", f)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "/archive/")
	assert.Contains(t, a, noBrace(f))
}

func TestArchivePathInjective(t *testing.T) {
	seen := map[string]fid.FID{}
	fids := []fid.FID{
		{Sequence: 1, OID: 1, Version: 0},
		{Sequence: 1, OID: 2, Version: 0},
		{Sequence: 2, OID: 1, Version: 0},
		{Sequence: 0x200000403, OID: 0xffff, Version: 0},
		{Sequence: 0x200000403, OID: 0x10000, Version: 0},
	}
	for _, f := range fids {
		p := ArchivePath("/archive", f)
		if prev, ok := seen[p]; ok {
			t.Fatalf("collision: %v and %v both map to %s", prev, f, p)
		}
		seen[p] = f
	}
}

func TestArchivePathHasSixFanoutLevels(t *testing.T) {
	f := fid.FID{Sequence: 0x200000403, OID: 0x1, Version: 0}
	p := ArchivePath("/archive", f)
	// root + 6 fan-out components + final FID component
	assert.Len(t, splitClean(p, "/archive"), 7)
}

func splitClean(p, prefix string) []string {
	rest := p[len(prefix):]
	var parts []string
	cur := ""
	for _, r := range rest {
		if r == '/' {
			if cur != "" {
				parts = append(parts, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}

func TestLustrePath(t *testing.T) {
	f := fid.FID{Sequence: 1, OID: 2, Version: 3}
	p := LustrePath("/mnt/lustre", f)
	assert.Equal(t, "/mnt/lustre/.lustre/fid/0x1:0x2:0x3", p)
}
