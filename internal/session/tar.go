package session

import (
	"archive/tar"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/goarc/goarc/internal/compress"
	"github.com/goarc/goarc/internal/paxattr"
)

type tarReader struct {
	tr  *tar.Reader
	src io.ReadCloser
}

func openTar(f *os.File, filter compress.Type, path string) (Reader, error) {
	src, _, err := compress.NewReader(f, filter, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &tarReader{tr: tar.NewReader(src), src: src}, nil
}

func (t *tarReader) Next() (*Entry, error) {
	hdr, err := t.tr.Next()
	if err != nil {
		// The header still comes back with ErrInsecurePath; the caller
		// sandboxes entry paths itself, so keep iterating.
		if hdr == nil || !errors.Is(err, tar.ErrInsecurePath) {
			return nil, err
		}
	}
	e := &Entry{
		Path:     strings.TrimSuffix(hdr.Name, "/"),
		Mode:     hdr.FileInfo().Mode(),
		Size:     hdr.Size,
		ModTime:  hdr.ModTime,
		Linkname: hdr.Linkname,
	}
	xattrs, xerr := paxattr.DecodeXattrFromPAX(hdr)
	acls, aerr := paxattr.DecodeACLFromPAX(hdr)
	if len(xattrs) > 0 {
		e.Xattrs = xattrs
	}
	if len(acls) > 0 {
		e.ACLs = acls
	}
	if xerr != nil {
		return e, &Warning{Err: xerr}
	}
	if aerr != nil {
		return e, &Warning{Err: aerr}
	}
	return e, nil
}

func (t *tarReader) Read(p []byte) (int, error) { return t.tr.Read(p) }

func (t *tarReader) Close() error { return t.src.Close() }

type tarWriter struct {
	tw    *tar.Writer
	stack io.WriteCloser
}

func newTarWriter(dst io.WriteCloser, filter compress.Type, opts WriterOptions) (Writer, error) {
	stack, err := compress.NewWriter(dst, filter, compress.WriterOptions{Level: opts.Level})
	if err != nil {
		dst.Close()
		return nil, err
	}
	return &tarWriter{tw: tar.NewWriter(stack), stack: stack}, nil
}

func (t *tarWriter) WriteHeader(e *Entry) error {
	hdr := &tar.Header{
		Name:    e.Path,
		Mode:    unixPermBits(e.Mode),
		Size:    e.Size,
		ModTime: e.ModTime,
		Format:  tar.FormatPAX,
	}
	switch {
	case e.Mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		if !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		hdr.Size = 0
	case e.Mode&fs.ModeSymlink != 0:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = e.Linkname
		hdr.Size = 0
	default:
		hdr.Typeflag = tar.TypeReg
	}
	paxattr.EncodeXattrToPAX(hdr, e.Xattrs)
	paxattr.EncodeACLToPAX(hdr, e.ACLs)
	return t.tw.WriteHeader(hdr)
}

func (t *tarWriter) Write(p []byte) (int, error) { return t.tw.Write(p) }

func (t *tarWriter) Close() error {
	err := t.tw.Close()
	if cerr := t.stack.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func unixPermBits(m fs.FileMode) int64 {
	mode := int64(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}
