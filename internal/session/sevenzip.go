package session

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	sz "github.com/bodgit/sevenzip"

	"github.com/goarc/goarc/internal/sevenzip"
)

type sevenZipReader struct {
	rc            *sz.ReadCloser
	password      string
	dataEncrypted bool
	idx           int
	cur           io.ReadCloser
	pending       *sz.File
}

// openSevenZip probes the header before handing the file to the reader,
// both to flag encrypted content up front and to tell a missing password
// apart from a rejected one when the header itself is encrypted.
func openSevenZip(path string, opts ReaderOptions) (Reader, error) {
	info, err := sevenzip.Probe(path)
	if err != nil {
		return nil, err
	}
	if info.HeaderEncrypted && opts.Password == "" {
		return nil, ErrPasswordRequired
	}
	var rc *sz.ReadCloser
	if opts.Password != "" {
		rc, err = sz.OpenReaderWithPassword(path, opts.Password)
	} else {
		rc, err = sz.OpenReader(path)
	}
	if err != nil {
		if info.HeaderEncrypted {
			return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
		}
		return nil, err
	}
	return &sevenZipReader{
		rc:            rc,
		password:      opts.Password,
		dataEncrypted: info.HeaderEncrypted || info.DataEncrypted,
	}, nil
}

func (z *sevenZipReader) Next() (*Entry, error) {
	if z.cur != nil {
		z.cur.Close()
		z.cur = nil
	}
	z.pending = nil
	if z.idx >= len(z.rc.File) {
		return nil, io.EOF
	}
	f := z.rc.File[z.idx]
	z.idx++
	info := f.FileInfo()
	e := &Entry{
		Path:    strings.TrimSuffix(f.Name, "/"),
		Mode:    info.Mode(),
		Size:    int64(f.UncompressedSize),
		ModTime: f.Modified,
	}
	// The AES coder applies per folder, so every stream-bearing entry of
	// an encrypted archive needs the password.
	e.Encrypted = z.dataEncrypted && e.Size > 0 && !info.IsDir()
	if e.Mode&fs.ModeSymlink != 0 {
		if !e.Encrypted || z.password != "" {
			target, err := readSevenZipLink(f)
			if err != nil {
				if e.Encrypted {
					return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
				}
				return nil, err
			}
			e.Linkname = target
		}
		e.Size = 0
		return e, nil
	}
	z.pending = f
	return e, nil
}

func readSevenZipLink(f *sz.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxLinkTarget))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (z *sevenZipReader) Read(p []byte) (int, error) {
	if z.cur == nil {
		if z.pending == nil {
			return 0, io.EOF
		}
		rc, err := z.pending.Open()
		if err != nil {
			return 0, err
		}
		z.cur = rc
	}
	return z.cur.Read(p)
}

func (z *sevenZipReader) Close() error {
	if z.cur != nil {
		z.cur.Close()
		z.cur = nil
	}
	return z.rc.Close()
}

type sevenZipWriter struct {
	w   *sevenzip.Writer
	dst io.WriteCloser
	cur io.Writer
}

func newSevenZipWriter(dst io.WriteCloser, opts WriterOptions) (Writer, error) {
	w, err := sevenzip.NewWriter(dst, sevenzip.Options{Password: opts.Password})
	if err != nil {
		dst.Close()
		return nil, err
	}
	return &sevenZipWriter{w: w, dst: dst}, nil
}

func (z *sevenZipWriter) WriteHeader(e *Entry) error {
	z.cur = nil
	if !e.Mode.IsDir() && !e.Mode.IsRegular() {
		return fmt.Errorf("session: %v entry in 7z archive: %w", e.Mode, ErrUnsupported)
	}
	fw, err := z.w.Create(&sevenzip.FileHeader{Name: e.Path, Mode: e.Mode, Modified: e.ModTime})
	if err != nil {
		return err
	}
	if !e.Mode.IsDir() {
		z.cur = fw
	}
	return nil
}

func (z *sevenZipWriter) Write(p []byte) (int, error) {
	if z.cur == nil {
		return 0, fmt.Errorf("session: no open 7z entry")
	}
	return z.cur.Write(p)
}

func (z *sevenZipWriter) Close() error {
	err := z.w.Close()
	if cerr := z.dst.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
