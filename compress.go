package goarc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goarc/goarc/internal/locator"
	"github.com/goarc/goarc/internal/session"
	localstore "github.com/goarc/goarc/internal/storage/local"
	s3store "github.com/goarc/goarc/internal/storage/s3"
)

var errUnsupportedSource = errors.New("source is not a regular file or directory")

// Compress archives sourcePath into archivePath using the given format.
// A directory source is archived as its children, with entry names relative
// to the directory itself. A regular file source becomes a single entry
// named after its base name. Symlinks given as sourcePath are followed.
func Compress(ctx context.Context, sourcePath, archivePath string, format Format, flags CompressFlags) (retErr error) {
	logger := orDefault(flags.Logger)
	if err := ctx.Err(); err != nil {
		return wrap(CodeCancelled, "compress", sourcePath, err)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return wrap(CodeOpenFile, "stat source", sourcePath, err)
	}

	spec, ok := format.spec()
	if !ok {
		return wrap(CodeUnsupportedFormat, "compress", archivePath,
			fmt.Errorf("unknown format selector %d", int(format)))
	}

	password := flags.Password
	if password != "" && !format.encryptionCapable() {
		logger.Warn("password ignored, format cannot encrypt", "format", format.String())
		password = ""
	}

	dst, err := openDestination(ctx, archivePath)
	if err != nil {
		if isCtxErr(err) {
			return wrap(CodeCancelled, "create archive", archivePath, err)
		}
		return wrap(CodeCreateArchive, "create archive", archivePath, err)
	}

	w, err := session.Create(dst, spec, session.WriterOptions{
		Password: password,
		Level:    flags.Level,
	})
	if err != nil {
		// Create closes dst itself when it fails.
		return wrap(CodeCompress, "create archive", archivePath, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && retErr == nil {
			retErr = wrap(CodeCompress, "finalize archive", archivePath, cerr)
		}
	}()

	logger.Debug("creating archive",
		"archive", archivePath, "format", format.String(), "source", sourcePath)

	switch {
	case info.IsDir():
		err := walkTree(ctx, sourcePath, flags.Exclude, logger, func(e *session.Entry, src io.Reader) error {
			return writeEntry(ctx, w, e, src)
		})
		if err != nil {
			if isCtxErr(err) {
				return wrap(CodeCancelled, "compress", sourcePath, err)
			}
			return wrap(CodeCompress, "compress", sourcePath, err)
		}
	case info.Mode().IsRegular():
		if err := addFile(ctx, w, sourcePath, info); err != nil {
			return err
		}
	default:
		return wrap(CodeUnsupportedFormat, "compress", sourcePath, errUnsupportedSource)
	}
	return nil
}

// openDestination opens archivePath for writing, locally or on S3. S3
// destinations stream through a pipe into a managed multipart upload.
func openDestination(ctx context.Context, archivePath string) (io.WriteCloser, error) {
	ref, err := locator.Parse(archivePath)
	if err != nil {
		return nil, err
	}
	if ref.Kind == locator.KindS3 {
		store, err := s3store.New(ctx)
		if err != nil {
			return nil, err
		}
		return store.OpenWriter(ctx, ref, ref.Metadata)
	}
	var store localstore.Store
	return store.OpenWriter(ref)
}

// addFile writes a single regular file as the archive's only entry.
func addFile(ctx context.Context, w session.Writer, sourcePath string, info fs.FileInfo) error {
	e := sourceEntry(sourcePath, filepath.Base(sourcePath), info)
	if err := w.WriteHeader(e); err != nil {
		return wrap(CodeCompress, "write entry", e.Path, err)
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return wrap(CodeOpenFile, "open source", sourcePath, err)
	}
	defer f.Close()
	if err := copyData(ctx, w, f); err != nil {
		if isCtxErr(err) {
			return wrap(CodeCancelled, "compress entry", e.Path, err)
		}
		return wrap(CodeCompress, "compress entry", e.Path, err)
	}
	return nil
}

func writeEntry(ctx context.Context, w session.Writer, e *session.Entry, src io.Reader) error {
	if err := w.WriteHeader(e); err != nil {
		return err
	}
	if src == nil || e.Size == 0 {
		return nil
	}
	return copyData(ctx, w, src)
}
