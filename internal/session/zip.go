package session

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/yeka/zip"
)

const maxLinkTarget = 4096

type zipReader struct {
	rc       *zip.ReadCloser
	password string
	idx      int
	cur      io.ReadCloser
	pending  *zip.File
}

func openZip(path string, opts ReaderOptions) (Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipReader{rc: rc, password: opts.Password}, nil
}

func (z *zipReader) Next() (*Entry, error) {
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
	if f.IsEncrypted() && z.password != "" {
		f.SetPassword(z.password)
	}
	e := &Entry{
		Path:      strings.TrimSuffix(f.Name, "/"),
		Mode:      f.Mode(),
		Size:      int64(f.UncompressedSize64),
		ModTime:   f.ModTime(),
		Encrypted: f.IsEncrypted(),
	}
	if e.Mode&fs.ModeSymlink != 0 {
		// Zip stores the link target as entry data; surface it on the
		// header instead. Skip when it cannot be decrypted anyway.
		if !e.Encrypted || z.password != "" {
			target, err := readLinkTarget(f)
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

func readLinkTarget(f *zip.File) (string, error) {
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

func (z *zipReader) Read(p []byte) (int, error) {
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

func (z *zipReader) Close() error {
	if z.cur != nil {
		z.cur.Close()
		z.cur = nil
	}
	return z.rc.Close()
}

type zipWriter struct {
	zw       *zip.Writer
	dst      io.WriteCloser
	password string
	cur      io.Writer
}

func newZipWriter(dst io.WriteCloser, opts WriterOptions) Writer {
	return &zipWriter{zw: zip.NewWriter(dst), dst: dst, password: opts.Password}
}

func (z *zipWriter) WriteHeader(e *Entry) error {
	z.cur = nil
	name := e.Path
	fh := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if e.Mode.IsDir() {
		if !strings.HasSuffix(name, "/") {
			fh.Name = name + "/"
		}
		fh.Method = zip.Store
	}
	fh.SetModTime(e.ModTime)
	fh.SetMode(e.Mode)
	// Traditional zip encryption, so the output stays readable by the
	// widest range of extractors. Directories carry no data to protect.
	if z.password != "" && !e.Mode.IsDir() {
		fh.SetPassword(z.password)
		fh.SetEncryptionMethod(zip.StandardEncryption)
	}
	w, err := z.zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	if e.Mode&fs.ModeSymlink != 0 {
		_, err := io.WriteString(w, e.Linkname)
		return err
	}
	if !e.Mode.IsDir() {
		z.cur = w
	}
	return nil
}

func (z *zipWriter) Write(p []byte) (int, error) {
	if z.cur == nil {
		return 0, errors.New("session: no open zip entry")
	}
	return z.cur.Write(p)
}

func (z *zipWriter) Close() error {
	err := z.zw.Close()
	if cerr := z.dst.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
