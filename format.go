package goarc

import (
	"fmt"

	"github.com/goarc/goarc/internal/compress"
	"github.com/goarc/goarc/internal/session"
)

// Format selects an output format for Compress. The numeric values are a
// stable contract: selectors 1 through 9 never change meaning, and new
// formats only ever append.
type Format int

const (
	FormatZip      Format = 1
	FormatTar      Format = 2
	FormatTarGzip  Format = 3
	FormatTarBzip2 Format = 4
	FormatTarXz    Format = 5
	FormatSevenZip Format = 6
	FormatBzip2    Format = 7
	FormatXz       Format = 8
	FormatGzip     Format = 9
	FormatTarZstd  Format = 10
	FormatTarLz4   Format = 11
	FormatZstd     Format = 12
	FormatLz4      Format = 13
)

// ParseFormat maps a numeric selector to a Format. Out-of-range values
// fail with CodeUnsupportedFormat.
func ParseFormat(n int) (Format, error) {
	f := Format(n)
	if f < FormatZip || f > FormatLz4 {
		return 0, wrap(CodeUnsupportedFormat, "parse format", "", fmt.Errorf("unknown format selector %d", n))
	}
	return f, nil
}

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarBzip2:
		return "tar.bz2"
	case FormatTarXz:
		return "tar.xz"
	case FormatSevenZip:
		return "7z"
	case FormatBzip2:
		return "bzip2"
	case FormatXz:
		return "xz"
	case FormatGzip:
		return "gzip"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarLz4:
		return "tar.lz4"
	case FormatZstd:
		return "zstd"
	case FormatLz4:
		return "lz4"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Extension returns the conventional file suffix for the format,
// including the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatZip:
		return ".zip"
	case FormatTar:
		return ".tar"
	case FormatTarGzip:
		return ".tar.gz"
	case FormatTarBzip2:
		return ".tar.bz2"
	case FormatTarXz:
		return ".tar.xz"
	case FormatSevenZip:
		return ".7z"
	case FormatBzip2:
		return ".bz2"
	case FormatXz:
		return ".xz"
	case FormatGzip:
		return ".gz"
	case FormatTarZstd:
		return ".tar.zst"
	case FormatTarLz4:
		return ".tar.lz4"
	case FormatZstd:
		return ".zst"
	case FormatLz4:
		return ".lz4"
	default:
		return ""
	}
}

// encryptionCapable reports whether Compress can protect this format
// with a password.
func (f Format) encryptionCapable() bool {
	return f == FormatZip || f == FormatSevenZip
}

func (f Format) spec() (session.Spec, bool) {
	switch f {
	case FormatZip:
		return session.Spec{Container: session.Zip, Filter: compress.None}, true
	case FormatTar:
		return session.Spec{Container: session.Tar, Filter: compress.None}, true
	case FormatTarGzip:
		return session.Spec{Container: session.Tar, Filter: compress.Gzip}, true
	case FormatTarBzip2:
		return session.Spec{Container: session.Tar, Filter: compress.Bzip2}, true
	case FormatTarXz:
		return session.Spec{Container: session.Tar, Filter: compress.Xz}, true
	case FormatSevenZip:
		return session.Spec{Container: session.SevenZip, Filter: compress.None}, true
	case FormatBzip2:
		return session.Spec{Container: session.Raw, Filter: compress.Bzip2}, true
	case FormatXz:
		return session.Spec{Container: session.Raw, Filter: compress.Xz}, true
	case FormatGzip:
		return session.Spec{Container: session.Raw, Filter: compress.Gzip}, true
	case FormatTarZstd:
		return session.Spec{Container: session.Tar, Filter: compress.Zstd}, true
	case FormatTarLz4:
		return session.Spec{Container: session.Tar, Filter: compress.Lz4}, true
	case FormatZstd:
		return session.Spec{Container: session.Raw, Filter: compress.Zstd}, true
	case FormatLz4:
		return session.Spec{Container: session.Raw, Filter: compress.Lz4}, true
	default:
		return session.Spec{}, false
	}
}
