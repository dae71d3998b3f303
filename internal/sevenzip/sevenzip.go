// Package sevenzip writes 7z containers and probes 7z headers for
// encryption. Folders are compressed with LZMA2 and optionally wrapped in
// the 7z AES-256-SHA-256 coder, one folder per file so archives are not
// solid. Headers are written unencoded.
package sevenzip

import (
	"bytes"
	"io/fs"
	"time"
	"unicode/utf16"
)

var signature = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}

// Property IDs from the 7z header grammar.
const (
	idEnd              = 0x00
	idHeader           = 0x01
	idArchiveProps     = 0x02
	idAdditionalStream = 0x03
	idMainStreamsInfo  = 0x04
	idFilesInfo        = 0x05
	idPackInfo         = 0x06
	idUnpackInfo       = 0x07
	idSubStreamsInfo   = 0x08
	idSize             = 0x09
	idCRC              = 0x0a
	idFolder           = 0x0b
	idCodersUnpackSize = 0x0c
	idNumUnpackStream  = 0x0d
	idEmptyStream      = 0x0e
	idEmptyFile        = 0x0f
	idName             = 0x11
	idMTime            = 0x14
	idWinAttributes    = 0x15
	idEncodedHeader    = 0x17
)

const (
	coderFlagComplex = 0x10
	coderFlagAttrs   = 0x20
)

var (
	coderCopy  = []byte{0x00}
	coderLZMA  = []byte{0x03, 0x01, 0x01}
	coderLZMA2 = []byte{0x21}
	coderAES   = []byte{0x06, 0xf1, 0x07, 0x01}
)

// putNumber appends v in the 7z variable-length integer encoding: the
// first byte carries a run of mask bits selecting how many little-endian
// low bytes follow.
func putNumber(b *bytes.Buffer, v uint64) {
	var first byte
	mask := byte(0x80)
	var i int
	for i = 0; i < 8; i++ {
		if v < uint64(1)<<(7*(i+1)) {
			first |= byte(v >> (8 * i))
			break
		}
		first |= mask
		mask >>= 1
	}
	b.WriteByte(first)
	for ; i > 0; i-- {
		b.WriteByte(byte(v))
		v >>= 8
	}
}

func putUint32(b *bytes.Buffer, v uint32) {
	b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func putUint64(b *bytes.Buffer, v uint64) {
	putUint32(b, uint32(v))
	putUint32(b, uint32(v>>32))
}

// putBoolVector appends bits MSB-first, padding the final byte with zeros.
func putBoolVector(b *bytes.Buffer, bits []bool) {
	var cur byte
	mask := byte(0x80)
	for _, bit := range bits {
		if bit {
			cur |= mask
		}
		mask >>= 1
		if mask == 0 {
			b.WriteByte(cur)
			mask = 0x80
			cur = 0
		}
	}
	if mask != 0x80 {
		b.WriteByte(cur)
	}
}

// utf16le appends the NUL-terminated UTF-16LE form of name.
func utf16le(b *bytes.Buffer, name string) {
	for _, c := range utf16.Encode([]rune(name)) {
		b.WriteByte(byte(c))
		b.WriteByte(byte(c >> 8))
	}
	b.WriteByte(0)
	b.WriteByte(0)
}

// filetimeEpochDelta is the span between the Windows FILETIME epoch
// (1601-01-01) and the Unix epoch, in seconds.
const filetimeEpochDelta = 11644473600

func toFiletime(t time.Time) uint64 {
	sec := t.Unix()
	if sec < -filetimeEpochDelta {
		return 0
	}
	return uint64(sec+filetimeEpochDelta)*1e7 + uint64(t.Nanosecond()/100)
}

const (
	attrReadonly      = 0x01
	attrDirectory     = 0x10
	attrUnixExtension = 0x8000
)

// Unix file type and permission bits as stored in the high half of the
// attributes word.
const (
	sIFDIR = 0x4000
	sIFREG = 0x8000
	sISUID = 0x800
	sISGID = 0x400
	sISVTX = 0x200
)

func unixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m.IsDir() {
		mode |= sIFDIR
	} else {
		mode |= sIFREG
	}
	if m&fs.ModeSetuid != 0 {
		mode |= sISUID
	}
	if m&fs.ModeSetgid != 0 {
		mode |= sISGID
	}
	if m&fs.ModeSticky != 0 {
		mode |= sISVTX
	}
	return mode
}

func winAttributes(m fs.FileMode) uint32 {
	attr := uint32(attrUnixExtension) | unixMode(m)<<16
	if m.IsDir() {
		attr |= attrDirectory
	}
	if m.Perm()&0o200 == 0 {
		attr |= attrReadonly
	}
	return attr
}

// lzma2DictCap decodes the LZMA2 dictionary-size property byte.
func lzma2DictCap(p byte) uint64 {
	if p > 40 {
		return 0
	}
	if p == 40 {
		return 0xFFFFFFFF
	}
	return uint64(2|p&1) << (p/2 + 11)
}

// lzma2Prop returns the smallest property byte whose capacity covers n.
func lzma2Prop(n int) byte {
	for p := byte(0); p < 40; p++ {
		if lzma2DictCap(p) >= uint64(n) {
			return p
		}
	}
	return 40
}
