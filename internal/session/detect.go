package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/goarc/goarc/internal/compress"
)

var (
	zipMagics = [][]byte{
		{'P', 'K', 0x03, 0x04},
		{'P', 'K', 0x05, 0x06}, // empty archive
		{'P', 'K', 0x07, 0x08}, // spanned marker
	}
	sevenZipMagic = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
)

// Open sniffs the format at path and returns a Reader over it. The
// password is only consulted by containers that support encryption.
// Unrecognized input fails with ErrUnsupported.
func Open(path string, opts ReaderOptions) (Reader, Detected, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Detected{}, err
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return nil, Detected{}, err
	}
	det, err := sniff(f, head[:n])
	if err != nil {
		f.Close()
		return nil, Detected{}, fmt.Errorf("%w: %s", err, path)
	}
	switch det.Container {
	case Zip:
		f.Close()
		r, err := openZip(path, opts)
		return r, det, err
	case SevenZip:
		f.Close()
		r, err := openSevenZip(path, opts)
		return r, det, err
	case Tar:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, Detected{}, err
		}
		r, err := openTar(f, det.Filter, path)
		return r, det, err
	default:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, Detected{}, err
		}
		r, err := openRaw(f, det.Filter, path)
		return r, det, err
	}
}

// Sniff reports the format at path without opening a Reader over it.
func Sniff(path string) (Detected, error) {
	f, err := os.Open(path)
	if err != nil {
		return Detected{}, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Detected{}, err
	}
	return sniff(f, head[:n])
}

func sniff(f *os.File, head []byte) (Detected, error) {
	if len(head) == 0 {
		return Detected{}, ErrUnsupported
	}
	for _, m := range zipMagics {
		if bytes.HasPrefix(head, m) {
			return Detected{Container: Zip, Filter: compress.None}, nil
		}
	}
	if bytes.HasPrefix(head, sevenZipMagic) {
		return Detected{Container: SevenZip, Filter: compress.None}, nil
	}
	if t := compress.DetectByMagic(head); t != compress.Auto {
		if innerIsTar(f, t) {
			return Detected{Container: Tar, Filter: t}, nil
		}
		return Detected{Container: Raw, Filter: t}, nil
	}
	if isTarBlock(head) {
		return Detected{Container: Tar, Filter: compress.None}, nil
	}
	return Detected{}, ErrUnsupported
}

// innerIsTar decompresses the first block of a filtered stream to decide
// between tar-with-filter and a bare compressed file.
func innerIsTar(f *os.File, t compress.Type) bool {
	sec := io.NewSectionReader(f, 0, math.MaxInt64)
	rc, _, err := compress.NewReader(io.NopCloser(sec), t, "")
	if err != nil {
		return false
	}
	defer rc.Close()
	inner := make([]byte, 512)
	n, err := io.ReadFull(rc, inner)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false
	}
	return isTarBlock(inner[:n])
}

// isTarBlock recognizes a tar header block: the ustar magic, an
// end-of-archive zero block, or a pre-POSIX header with a valid
// checksum. The checksum is accepted in both unsigned and signed form,
// matching what tar readers tolerate.
func isTarBlock(b []byte) bool {
	if len(b) < 512 {
		return false
	}
	if string(b[257:262]) == "ustar" {
		return true
	}
	allZero := true
	for _, c := range b[:512] {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}
	stored, ok := parseOctal(b[148:156])
	if !ok {
		return false
	}
	var unsigned, signed int64
	for i := 0; i < 512; i++ {
		c := b[i]
		if i >= 148 && i < 156 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return stored == unsigned || stored == signed
}

func parseOctal(b []byte) (int64, bool) {
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
