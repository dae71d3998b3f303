package goarc

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goarc/goarc/internal/locator"
	"github.com/goarc/goarc/internal/paxattr"
	"github.com/goarc/goarc/internal/session"
	s3store "github.com/goarc/goarc/internal/storage/s3"
)

var errEncryptedEntry = errors.New("entry is encrypted and no password was supplied")

// Extract unpacks the archive at archivePath into dest, creating dest if it
// does not exist. The archive format is detected from content, never from the
// file name. Entries that cannot be placed (permission problems, unsupported
// node types, paths escaping dest) are logged and skipped; errors that
// compromise the archive stream itself abort the run.
func Extract(ctx context.Context, archivePath, dest string, flags ExtractFlags) (retErr error) {
	logger := orDefault(flags.Logger)
	if err := ctx.Err(); err != nil {
		return wrap(CodeCancelled, "extract", archivePath, err)
	}

	local, cleanup, err := fetchArchive(ctx, archivePath)
	if err != nil {
		if isCtxErr(err) {
			return wrap(CodeCancelled, "fetch archive", archivePath, err)
		}
		return wrap(CodeOpenFile, "fetch archive", archivePath, err)
	}
	defer cleanup()

	r, det, err := session.Open(local, session.ReaderOptions{Password: flags.Password})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrPasswordRequired):
			return wrap(CodePasswordRequired, "open archive", archivePath, err)
		case errors.Is(err, session.ErrWrongPassword):
			return wrap(CodeWrongPassword, "open archive", archivePath, err)
		}
		return wrap(CodeOpenFile, "open archive", archivePath, err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && retErr == nil {
			retErr = wrap(CodeExtract, "close archive", archivePath, cerr)
		}
	}()

	logger.Debug("extracting archive",
		"archive", archivePath, "format", det.String(), "dest", dest)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return wrap(CodeExtract, "prepare destination", dest, err)
	}

	x := &extractor{
		ctx:      ctx,
		r:        r,
		archive:  archivePath,
		dest:     dest,
		password: flags.Password,
		exclude:  flags.Exclude,
		logger:   logger,
	}
	if err := x.run(); err != nil {
		return err
	}
	x.restoreDirTimes()
	return nil
}

// fetchArchive resolves archivePath to a local file, downloading S3 objects
// to a temporary spool first. The returned cleanup is non-nil on success.
func fetchArchive(ctx context.Context, archivePath string) (string, func(), error) {
	ref, err := locator.Parse(archivePath)
	if err != nil {
		return "", nil, err
	}
	if ref.Kind != locator.KindS3 {
		return ref.Path, func() {}, nil
	}
	store, err := s3store.New(ctx)
	if err != nil {
		return "", nil, err
	}
	return store.Download(ctx, ref)
}

type dirTime struct {
	path  string
	mtime time.Time
}

type extractor struct {
	ctx      context.Context
	r        session.Reader
	archive  string
	dest     string
	password string
	exclude  []string
	logger   *slog.Logger

	dirTimes []dirTime
}

func (x *extractor) run() error {
	for {
		select {
		case <-x.ctx.Done():
			return wrap(CodeCancelled, "extract", x.archive, x.ctx.Err())
		default:
		}

		e, err := x.r.Next()
		if err != nil {
			var warn *session.Warning
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, session.ErrRetry):
				x.logger.Warn("transient archive error, retrying",
					"archive", x.archive, "error", err)
				continue
			case errors.As(err, &warn):
				x.logger.Warn("archive warning", "archive", x.archive, "error", warn.Unwrap())
			case errors.Is(err, session.ErrWrongPassword):
				return wrap(CodeWrongPassword, "read entry", x.archive, err)
			default:
				return wrap(CodeReadEntry, "read entry", x.archive, err)
			}
		}
		if e == nil {
			continue
		}
		if e.Encrypted && x.password == "" {
			return wrap(CodePasswordRequired, "read entry", e.Path, errEncryptedEntry)
		}
		if matchAny(x.exclude, e.Path) {
			x.logger.Debug("skipping excluded entry", "entry", e.Path)
			continue
		}
		target, ok := safeJoin(x.dest, e.Path)
		if !ok {
			x.logger.Warn("skipping entry outside destination", "entry", e.Path)
			continue
		}
		if err := x.place(e, target); err != nil {
			return err
		}
	}
}

func (x *extractor) place(e *session.Entry, target string) error {
	switch {
	case e.Mode.IsDir():
		if err := os.MkdirAll(target, dirPerm(e.Mode)); err != nil {
			x.logger.Warn("cannot create directory", "entry", e.Path, "error", err)
			return nil
		}
		restoreMode(target, e.Mode)
		paxattr.WritePathMetadata(target, e.Xattrs, e.ACLs)
		if !e.ModTime.IsZero() {
			x.dirTimes = append(x.dirTimes, dirTime{path: target, mtime: e.ModTime})
		}
		return nil

	case e.Mode&fs.ModeSymlink != 0:
		if e.Linkname == "" {
			x.logger.Warn("symlink entry without a target", "entry", e.Path)
			return nil
		}
		if !safeSymlinkTarget(x.dest, target, e.Linkname) {
			x.logger.Warn("skipping symlink pointing outside destination",
				"entry", e.Path, "target", e.Linkname)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			x.logger.Warn("cannot create symlink", "entry", e.Path, "error", err)
			return nil
		}
		os.Remove(target)
		if err := os.Symlink(e.Linkname, target); err != nil {
			x.logger.Warn("cannot create symlink", "entry", e.Path, "error", err)
		}
		return nil

	case e.Mode.IsRegular():
		return x.placeFile(e, target)

	default:
		x.logger.Debug("skipping unsupported entry type",
			"entry", e.Path, "mode", e.Mode.String())
		return nil
	}
}

func (x *extractor) placeFile(e *session.Entry, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		x.logger.Warn("cannot create parent directory", "entry", e.Path, "error", err)
		return nil
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm(e.Mode))
	if err != nil {
		// Placement failures skip the entry's data but never abort the run.
		x.logger.Warn("cannot create file", "entry", e.Path, "error", err)
		return nil
	}
	if e.Size != 0 {
		if err := copyData(x.ctx, f, x.r); err != nil {
			f.Close()
			return x.copyError(e, err)
		}
	}
	if cerr := f.Close(); cerr != nil {
		return wrap(CodeExtract, "extract entry", e.Path, cerr)
	}
	restoreMode(target, e.Mode)
	if !e.ModTime.IsZero() {
		os.Chtimes(target, e.ModTime, e.ModTime)
	}
	paxattr.WritePathMetadata(target, e.Xattrs, e.ACLs)
	return nil
}

func (x *extractor) copyError(e *session.Entry, err error) error {
	if isCtxErr(err) {
		return wrap(CodeCancelled, "extract entry", e.Path, err)
	}
	var sink *sinkError
	if !errors.As(err, &sink) && e.Encrypted && x.password != "" {
		// Zip's legacy cipher has no up-front password check; a bad
		// password only shows up as a corrupt stream while reading.
		return wrap(CodeWrongPassword, "extract entry", e.Path, err)
	}
	return wrap(CodeExtract, "extract entry", e.Path, err)
}

// restoreDirTimes reapplies directory mtimes after all entries are placed,
// deepest first, so that creating children no longer disturbs them.
func (x *extractor) restoreDirTimes() {
	for i := len(x.dirTimes) - 1; i >= 0; i-- {
		d := x.dirTimes[i]
		os.Chtimes(d.path, d.mtime, d.mtime)
	}
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// safeJoin joins name onto dest and reports whether the result stays inside
// dest. Entry names are archive-controlled and must not climb out.
func safeJoin(dest, name string) (string, bool) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// safeSymlinkTarget reports whether a symlink at linkPath resolving target
// stays inside dest. Absolute targets are rejected outright.
func safeSymlinkTarget(dest, linkPath, target string) bool {
	if filepath.IsAbs(target) {
		return false
	}
	resolved := filepath.Join(filepath.Dir(linkPath), filepath.FromSlash(target))
	rel, err := filepath.Rel(dest, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func restoreMode(target string, m fs.FileMode) {
	perm := m.Perm()
	if perm == 0 {
		return
	}
	os.Chmod(target, perm|m&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky))
}

func filePerm(m fs.FileMode) fs.FileMode {
	if p := m.Perm(); p != 0 {
		return p
	}
	return 0o666 &^ currentUmask()
}

func dirPerm(m fs.FileMode) fs.FileMode {
	if p := m.Perm(); p != 0 {
		return p
	}
	return 0o777 &^ currentUmask()
}
