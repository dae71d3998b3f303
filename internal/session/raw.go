package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	gzip "github.com/klauspost/pgzip"

	"github.com/goarc/goarc/internal/compress"
)

var errRawSecondEntry = errors.New("session: raw stream holds a single file")

// rawReader presents a bare compressed stream as a one-entry archive.
// Gzip is decoded directly so the FNAME and MTIME header fields can name
// and date the entry; the other codecs carry no metadata and fall back
// to a fixed entry name.
type rawReader struct {
	entry   *Entry
	src     io.Reader
	closers []io.Closer
	state   int
}

func openRaw(f *os.File, filter compress.Type, archivePath string) (Reader, error) {
	e := &Entry{Path: "data", Mode: 0o644, Size: -1}
	if filter == compress.Gzip {
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if base := storedName(zr.Name); base != "" {
			e.Path = base
		}
		if !zr.ModTime.IsZero() {
			e.ModTime = zr.ModTime
		}
		return &rawReader{entry: e, src: zr, closers: []io.Closer{zr, f}}, nil
	}
	rc, _, err := compress.NewReader(f, filter, archivePath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rawReader{entry: e, src: rc, closers: []io.Closer{rc}}, nil
}

// storedName reduces a gzip FNAME field to a bare file name, discarding
// anything that looks like a path.
func storedName(name string) string {
	if name == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

func (r *rawReader) Next() (*Entry, error) {
	if r.state > 0 {
		return nil, io.EOF
	}
	r.state = 1
	return r.entry, nil
}

func (r *rawReader) Read(p []byte) (int, error) {
	if r.state != 1 {
		return 0, io.EOF
	}
	return r.src.Read(p)
}

func (r *rawReader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type rawWriter struct {
	wc    io.WriteCloser
	gz    *gzip.Writer
	dst   io.WriteCloser
	wrote bool
}

func newRawWriter(dst io.WriteCloser, filter compress.Type, opts WriterOptions) (Writer, error) {
	if filter == compress.Gzip {
		level := gzip.DefaultCompression
		if opts.Level != 0 {
			level = opts.Level
		}
		zw, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			dst.Close()
			return nil, err
		}
		return &rawWriter{gz: zw, dst: dst}, nil
	}
	wc, err := compress.NewWriter(dst, filter, compress.WriterOptions{Level: opts.Level})
	if err != nil {
		dst.Close()
		return nil, err
	}
	return &rawWriter{wc: wc}, nil
}

func (r *rawWriter) WriteHeader(e *Entry) error {
	if r.wrote {
		return errRawSecondEntry
	}
	if !e.Mode.IsRegular() {
		return fmt.Errorf("session: %v entry in raw stream: %w", e.Mode, ErrUnsupported)
	}
	r.wrote = true
	if r.gz != nil {
		if base := storedName(e.Path); base != "" && base != "data" {
			r.gz.Name = base
		}
		if !e.ModTime.IsZero() {
			r.gz.ModTime = e.ModTime
		}
	}
	return nil
}

func (r *rawWriter) Write(p []byte) (int, error) {
	if !r.wrote {
		return 0, errors.New("session: raw write before header")
	}
	if r.gz != nil {
		return r.gz.Write(p)
	}
	return r.wc.Write(p)
}

func (r *rawWriter) Close() error {
	if r.gz != nil {
		err := r.gz.Close()
		if cerr := r.dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return r.wc.Close()
}
