// Package compress wraps the stream codecs shared by the tar container and
// the raw single-file formats. Writers stack on top of the destination and
// close top-down; readers can sniff the codec from magic bytes when the
// caller does not know it.
package compress

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type Type string

const (
	Auto  Type = "auto"
	None  Type = "none"
	Gzip  Type = "gzip"
	Bzip2 Type = "bzip2"
	Xz    Type = "xz"
	Zstd  Type = "zstd"
	Lz4   Type = "lz4"
)

// readBufferSize is the read-ahead applied to archive streams before the
// codec sees them. Large enough to hold any magic sequence plus a full
// tar block for the inner-container peek.
const readBufferSize = 10240

type WriterOptions struct {
	// Level is the codec-native compression level. Zero selects each
	// codec's default; out-of-range values are clamped by the codec.
	Level int
}

func NewWriter(dst io.WriteCloser, t Type, opts WriterOptions) (io.WriteCloser, error) {
	switch t {
	case Auto, None:
		return dst, nil
	case Gzip:
		level := gzip.DefaultCompression
		if opts.Level != 0 {
			level = opts.Level
		}
		zw, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst}, nil
	case Bzip2:
		cfg := &bzip2.WriterConfig{Level: bzip2.BestSpeed}
		if opts.Level >= bzip2.BestSpeed && opts.Level <= bzip2.BestCompression {
			cfg.Level = opts.Level
		}
		zw, err := bzip2.NewWriter(dst, cfg)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst}, nil
	case Xz:
		zw, err := xz.NewWriter(dst)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst}, nil
	case Zstd:
		var zopts []zstd.EOption
		if opts.Level != 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
		}
		zw, err := zstd.NewWriter(dst, zopts...)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst}, nil
	case Lz4:
		zw := lz4.NewWriter(dst)
		if opts.Level > 0 && opts.Level < 9 {
			if err := zw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(1 << (8 + opts.Level)))); err != nil {
				return nil, err
			}
		}
		return &stackedWriteCloser{writer: zw, dst: dst}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

func NewReader(src io.ReadCloser, explicit Type, hint string) (io.ReadCloser, Type, error) {
	if explicit != Auto {
		r, err := wrapReaderByType(src, explicit)
		return r, explicit, err
	}
	br := bufio.NewReaderSize(src, readBufferSize)
	magic, _ := br.Peek(8)
	t := DetectByMagic(magic)
	if t == Auto {
		t = detectByExt(hint)
	}
	if t == Auto {
		t = None
	}
	wrapped, err := wrapReader(br, src, t)
	return wrapped, t, err
}

func wrapReaderByType(src io.ReadCloser, t Type) (io.ReadCloser, error) {
	if t == None {
		return src, nil
	}
	br := bufio.NewReaderSize(src, readBufferSize)
	return wrapReader(br, src, t)
}

func wrapReader(reader io.Reader, src io.Closer, t Type) (io.ReadCloser, error) {
	switch t {
	case None:
		return &readCloser{reader: reader, closer: src}, nil
	case Gzip:
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr, src}}, nil
	case Bzip2:
		zr, err := bzip2.NewReader(reader, nil)
		if err != nil {
			return nil, err
		}
		return &readCloser{reader: zr, closer: src}, nil
	case Xz:
		zr, err := xz.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &readCloser{reader: zr, closer: src}, nil
	case Zstd:
		zr, err := zstd.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr.IOReadCloser(), src}}, nil
	case Lz4:
		return &readCloser{reader: lz4.NewReader(reader), closer: src}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

// DetectByMagic identifies a codec from the first bytes of a stream. It
// returns Auto when no known signature matches.
func DetectByMagic(magic []byte) Type {
	switch {
	case len(magic) >= 2 && bytes.Equal(magic[:2], []byte{0x1f, 0x8b}):
		return Gzip
	case len(magic) >= 3 && bytes.Equal(magic[:3], []byte{'B', 'Z', 'h'}):
		return Bzip2
	case len(magic) >= 6 && bytes.Equal(magic[:6], []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return Xz
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return Zstd
	case len(magic) >= 4 && bytes.Equal(magic[:4], []byte{0x04, 0x22, 0x4d, 0x18}):
		return Lz4
	default:
		return Auto
	}
}

func detectByExt(name string) Type {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".gz", ".tgz":
		return Gzip
	case ".bz2", ".tbz2", ".tbz":
		return Bzip2
	case ".xz", ".txz":
		return Xz
	case ".zst", ".tzst", ".zstd":
		return Zstd
	case ".lz4", ".tlz4":
		return Lz4
	default:
		return Auto
	}
}

type readCloser struct {
	reader io.Reader
	closer io.Closer
}

func (r *readCloser) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *readCloser) Close() error               { return r.closer.Close() }

type multiReadCloser struct {
	reader  io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Read(p []byte) (int, error) { return m.reader.Read(p) }

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// stackedWriteCloser closes the codec before the destination it writes
// through, so trailers are flushed before the underlying file goes away.
type stackedWriteCloser struct {
	writer io.WriteCloser
	dst    io.Closer
}

func (w *stackedWriteCloser) Write(p []byte) (int, error) { return w.writer.Write(p) }

func (w *stackedWriteCloser) Close() error {
	var first error
	if err := w.writer.Close(); err != nil {
		first = err
	}
	if err := w.dst.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
