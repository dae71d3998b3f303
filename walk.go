package goarc

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/goarc/goarc/internal/paxattr"
	"github.com/goarc/goarc/internal/session"
)

type walkFunc func(e *session.Entry, src io.Reader) error

// walkTree feeds the children of root to fn in pre-order: each directory
// is emitted before its contents. The root directory itself gets no
// entry, so archive paths start at its children. Symlinks are followed
// through stat, meaning a link to a file is archived as that file.
// Unstatable children are logged and skipped; anything that is neither a
// regular file nor a directory is skipped as well.
func walkTree(ctx context.Context, root string, excludes []string, logger *slog.Logger, fn walkFunc) error {
	return walkDir(ctx, root, "", excludes, logger, fn)
}

func walkDir(ctx context.Context, dir, prefix string, excludes []string, logger *slog.Logger, fn walkFunc) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rel := de.Name()
		if prefix != "" {
			rel = prefix + "/" + rel
		}
		if matchAny(excludes, rel) {
			logger.Debug("skipping excluded path", "path", rel)
			continue
		}
		full := filepath.Join(dir, de.Name())
		info, err := os.Stat(full)
		if err != nil {
			logger.Warn("skipping unreadable path", "path", full, "error", err)
			continue
		}
		switch {
		case info.IsDir():
			if err := fn(sourceEntry(full, rel, info), nil); err != nil {
				return err
			}
			if err := walkDir(ctx, full, rel, excludes, logger, fn); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			f, err := os.Open(full)
			if err != nil {
				return err
			}
			ferr := fn(sourceEntry(full, rel, info), f)
			cerr := f.Close()
			if ferr != nil {
				return ferr
			}
			if cerr != nil {
				return cerr
			}
		default:
			logger.Debug("skipping special file", "path", full, "mode", info.Mode().String())
		}
	}
	return nil
}

// sourceEntry builds the archive entry for a filesystem path, carrying
// along whatever extended attributes the path has.
func sourceEntry(full, rel string, info fs.FileInfo) *session.Entry {
	e := &session.Entry{
		Path:    rel,
		Mode:    info.Mode(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		e.Size = 0
	}
	if xattrs, acls, err := paxattr.ReadPathMetadata(full); err == nil {
		if len(xattrs) > 0 {
			e.Xattrs = xattrs
		}
		if len(acls) > 0 {
			e.ACLs = acls
		}
	}
	return e
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}
