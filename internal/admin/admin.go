// Package admin implements the copytool's non-daemon maintenance modes:
// importing pre-existing files into the archive, rebinding archive entries
// to new FIDs, and reporting the highest sequence number in use, mirroring
// ct_import_recurse/ct_rebind/ct_max_sequence.
package admin

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldtier/hsmcopytool/internal/coordinator"
	"github.com/coldtier/hsmcopytool/internal/ctlog"
	"github.com/coldtier/hsmcopytool/internal/fid"
	"github.com/coldtier/hsmcopytool/internal/layout"
	"github.com/coldtier/hsmcopytool/internal/options"
)

// Import registers src (a file or a directory tree already sitting under
// root) with client as archiveID, hardlinking each regular file found into
// its hash-fanout archive path. dst is the Lustre-side path files should
// appear to come from; for a directory import it is extended with each
// file's path relative to src, mirroring ct_import_recurse/ct_import_one.
func Import(ctx context.Context, client coordinator.Client, root, src, dst string, archiveID int, opt options.Options, log *slog.Logger) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("import: stat %q: %w", src, err)
	}
	if !info.IsDir() {
		return importOne(client, root, src, dst, archiveID, opt, log)
	}
	return importRecurse(ctx, client, root, src, dst, archiveID, opt, log)
}

func importRecurse(ctx context.Context, client coordinator.Client, root, srcDir, dstDir string, archiveID int, opt options.Options, log *slog.Logger) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("import: readdir %q: %w", srcDir, err)
	}

	var firstErr error
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ent.Name() == "." || ent.Name() == ".." {
			continue
		}
		srcPath := filepath.Join(srcDir, ent.Name())
		dstPath := filepath.Join(dstDir, ent.Name())

		var itemErr error
		if ent.IsDir() {
			itemErr = importRecurse(ctx, client, root, srcPath, dstPath, archiveID, opt, log)
		} else {
			itemErr = importOne(client, root, srcPath, dstPath, archiveID, opt, log)
		}
		if itemErr != nil {
			ctlog.Error(log, "import: entry failed", "path", srcPath, "error", itemErr)
			if firstErr == nil {
				firstErr = itemErr
			}
			if opt.AbortOnError {
				return firstErr
			}
		}
	}
	return firstErr
}

// importOne imports a single regular file, as ct_import_one does: stat,
// allocate a FID via the coordinator, mkdir the archive fan-out, hardlink
// the source in at its archive path.
func importOne(client coordinator.Client, root, src, dst string, archiveID int, opt options.Options, log *slog.Logger) error {
	ctlog.Trace(log, "importing", "dst", dst, "src", src)

	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("import: stat %q: %w", src, err)
	}

	if opt.DryRun {
		return nil
	}

	f, err := client.Import(dst, archiveID, info)
	if err != nil {
		return fmt.Errorf("import: coordinator import %q: %w", dst, err)
	}

	archivePath := layout.ArchivePath(root, f)
	if err := layout.MkdirAll(filepath.Dir(archivePath)); err != nil {
		return fmt.Errorf("import: mkdir %q: %w", archivePath, err)
	}

	if err := os.Link(src, archivePath); err != nil {
		return fmt.Errorf("import: link %q to %q: %w", archivePath, src, err)
	}
	ctlog.Trace(log, "imported", "dst", dst, "archive", archivePath)
	return nil
}

// Rebind moves the archive entry for old to the path new would use,
// including its stripe sidecar, as ct_rebind_one does.
func Rebind(root string, oldFID, newFID fid.FID, dryRun bool) error {
	src := layout.ArchivePath(root, oldFID)
	dst := layout.ArchivePath(root, newFID)
	if dryRun {
		return nil
	}
	if err := layout.MkdirAll(filepath.Dir(dst)); err != nil {
		return fmt.Errorf("rebind: mkdir %q: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rebind: rename %q to %q: %w", src, dst, err)
	}
	if err := os.Rename(src+".lov", dst+".lov"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rebind: rename stripe sidecar: %w", err)
	}
	return nil
}

// shouldIgnoreLine reports whether line is blank or a '#'-prefixed
// comment, matching should_ignore_line's first-non-space-char check.
func shouldIgnoreLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// RebindList rebinds every "<old-fid> <new-fid>" pair listed in listFile,
// one per line, skipping blank and '#'-commented lines. It returns an error
// if any line fails to parse or any rebind fails, matching ct_rebind_list's
// "return 0 only if every line succeeded" contract.
func RebindList(root, listFile string, dryRun bool, log *slog.Logger) error {
	f, err := os.Open(listFile)
	if err != nil {
		return fmt.Errorf("rebind: open %q: %w", listFile, err)
	}
	defer f.Close()

	var lines, ok uint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if shouldIgnoreLine(line) {
			continue
		}
		lines++

		fields := strings.Fields(line)
		if len(fields) != 2 {
			ctlog.Error(log, "rebind: malformed line", "file", listFile, "line", lines)
			continue
		}
		oldFID, errOld := fid.Parse(fields[0])
		newFID, errNew := fid.Parse(fields[1])
		if errOld != nil || errNew != nil || !oldFID.IsFile() || !newFID.IsFile() {
			ctlog.Error(log, "rebind: invalid FID", "file", listFile, "line", lines)
			continue
		}

		if err := Rebind(root, oldFID, newFID, dryRun); err != nil {
			ctlog.Error(log, "rebind: entry failed", "old", oldFID.String(), "new", newFID.String(), "error", err)
			continue
		}
		ok++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("rebind: read %q: %w", listFile, err)
	}

	ctlog.Trace(log, "rebind list done", "file", listFile, "lines", lines, "ok", ok)
	if ok != lines {
		return fmt.Errorf("rebind: %d of %d entries in %q failed", lines-ok, lines, listFile)
	}
	return nil
}

// dirLevelMax returns the highest hex directory name directly under dir,
// as ct_dir_level_max does: non-hex entries are skipped rather than being
// treated as an error.
func dirLevelMax(dir string) (uint16, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("max-sequence: readdir %q: %w", dir, err)
	}
	var max uint16
	for _, ent := range entries {
		var v uint16
		if _, err := fmt.Sscanf(ent.Name(), "%x", &v); err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

// MaxSequence returns the highest FID sequence number represented anywhere
// in root's archive tree, descending the four hex-named directory levels
// under root and taking the largest subdirectory name seen at each,
// exactly as ct_max_sequence does.
func MaxSequence(root string) (uint64, error) {
	path := root
	var seq uint64
	for i := 0; i < 4; i++ {
		sub, err := dirLevelMax(path)
		if err != nil {
			return 0, err
		}
		seq |= uint64(sub) << uint((3-i)*16)
		path = filepath.Join(path, fmt.Sprintf("%04x", sub))
	}
	return seq, nil
}
