// Package session gives every archive family one read and one write
// surface. A Reader walks entries header-first the way archive/tar does;
// a Writer accepts headers and entry data and owns the destination it
// writes through. Container quirks (zip central directories, 7z folders,
// bare compressed streams) stay behind these two interfaces.
package session

import (
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/goarc/goarc/internal/compress"
)

// Container selects the archive family.
type Container int

const (
	Tar Container = iota
	Zip
	SevenZip
	// Raw is a single compressed stream with no container around it.
	Raw
)

func (c Container) String() string {
	switch c {
	case Tar:
		return "tar"
	case Zip:
		return "zip"
	case SevenZip:
		return "7z"
	case Raw:
		return "raw"
	default:
		return "unknown"
	}
}

// Spec names a concrete output format: a container plus the stream codec
// wrapped around it. Zip and SevenZip take no filter; Raw requires one.
type Spec struct {
	Container Container
	Filter    compress.Type
}

// Detected reports what Open found in front of the first entry.
type Detected struct {
	Container Container
	Filter    compress.Type
}

func (d Detected) String() string {
	if d.Filter != compress.None && d.Filter != "" {
		return d.Container.String() + "+" + string(d.Filter)
	}
	return d.Container.String()
}

// Entry is the container-neutral view of one archive member. Size is -1
// when the container does not record it, which only happens for Raw
// streams; such entries are read until EOF.
type Entry struct {
	Path      string
	Mode      fs.FileMode
	Size      int64
	ModTime   time.Time
	Linkname  string
	Encrypted bool
	Xattrs    map[string][]byte
	ACLs      map[string][]byte
}

// Reader iterates an archive. Next returns io.EOF after the last entry.
// It may return a non-nil *Entry together with a *Warning error when the
// entry is usable but carried a defect worth logging, and ErrRetry for a
// transient failure where the caller should simply call Next again.
type Reader interface {
	Next() (*Entry, error)
	// Read returns the current entry's data.
	io.Reader
	Close() error
}

// Writer produces an archive. WriteHeader starts an entry; Write appends
// its data. Close finalizes the archive and closes the destination the
// Writer was created over.
type Writer interface {
	WriteHeader(e *Entry) error
	io.Writer
	Close() error
}

// ReaderOptions carries per-open settings.
type ReaderOptions struct {
	Password string
}

// WriterOptions carries per-create settings. Level follows each codec's
// native scale; zero means the codec default.
type WriterOptions struct {
	Password string
	Level    int
}

var (
	// ErrRetry marks a transient per-entry failure.
	ErrRetry = errors.New("transient entry error")
	// ErrUnsupported marks input no adapter can handle.
	ErrUnsupported = errors.New("unsupported archive format")
	// ErrPasswordRequired is returned when content is encrypted and no
	// password was supplied.
	ErrPasswordRequired = errors.New("password required")
	// ErrWrongPassword is returned when the supplied password was
	// rejected.
	ErrWrongPassword = errors.New("wrong password")
)

// Warning wraps a defect that does not invalidate the entry it came with.
type Warning struct {
	Err error
}

func (w *Warning) Error() string { return "archive warning: " + w.Err.Error() }
func (w *Warning) Unwrap() error { return w.Err }

// Create opens a Writer for spec on dst. The Writer takes ownership of
// dst and closes it as part of Close.
func Create(dst io.WriteCloser, spec Spec, opts WriterOptions) (Writer, error) {
	switch spec.Container {
	case Zip:
		return newZipWriter(dst, opts), nil
	case SevenZip:
		return newSevenZipWriter(dst, opts)
	case Tar:
		return newTarWriter(dst, spec.Filter, opts)
	case Raw:
		return newRawWriter(dst, spec.Filter, opts)
	default:
		return nil, ErrUnsupported
	}
}
