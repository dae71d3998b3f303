package sevenzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/ulikunitz/xz/lzma"
)

// Info reports what a 7z header reveals about encryption.
//
// HeaderEncrypted means the archive header itself sits behind the AES
// coder, so even entry names need a password. DataEncrypted means at
// least one content folder uses the AES coder.
type Info struct {
	HeaderEncrypted bool
	DataEncrypted   bool
}

// maxHeaderSize bounds header allocations when parsing untrusted input.
const maxHeaderSize = 1 << 26

// Probe inspects the archive header at path without any password. It
// decodes compressed headers (the 7z default) as long as they use the
// Copy, LZMA or LZMA2 codec.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var sig [32]byte
	if _, err := io.ReadFull(f, sig[:]); err != nil {
		return Info{}, fmt.Errorf("read signature: %w", err)
	}
	if !bytes.Equal(sig[:6], signature) {
		return Info{}, errors.New("not a 7z archive")
	}
	offset := binary.LittleEndian.Uint64(sig[12:20])
	size := binary.LittleEndian.Uint64(sig[20:28])
	sum := binary.LittleEndian.Uint32(sig[28:32])
	if size == 0 {
		return Info{}, nil
	}
	if size > maxHeaderSize {
		return Info{}, errors.New("header too large")
	}
	hdr := make([]byte, size)
	if _, err := f.ReadAt(hdr, 32+int64(offset)); err != nil {
		return Info{}, fmt.Errorf("read header: %w", err)
	}
	if crc32.ChecksumIEEE(hdr) != sum {
		return Info{}, errors.New("header checksum mismatch")
	}
	return parseTop(f, hdr, 0)
}

func parseTop(f *os.File, hdr []byte, depth int) (Info, error) {
	r := &headerReader{b: hdr}
	switch id := r.byte(); id {
	case idHeader:
		return parseHeaderBody(r)
	case idEncodedHeader:
		si, err := parseStreamsInfo(r)
		if err != nil {
			return Info{}, err
		}
		if si.usesAES() {
			return Info{HeaderEncrypted: true}, nil
		}
		if depth > 0 {
			return Info{}, errors.New("nested encoded header")
		}
		raw, err := decodeHeaderStreams(f, si)
		if err != nil {
			return Info{}, err
		}
		return parseTop(f, raw, depth+1)
	default:
		if r.err != nil {
			return Info{}, r.err
		}
		return Info{}, fmt.Errorf("unexpected header property %#x", id)
	}
}

func parseHeaderBody(r *headerReader) (Info, error) {
	var info Info
	for {
		id := r.byte()
		if r.err != nil {
			return Info{}, r.err
		}
		switch id {
		case idEnd, idFilesInfo:
			// FilesInfo carries no stream coders, nothing more to learn.
			return info, nil
		case idArchiveProps:
			skipArchiveProps(r)
		case idAdditionalStream, idMainStreamsInfo:
			si, err := parseStreamsInfo(r)
			if err != nil {
				return Info{}, err
			}
			if si.usesAES() {
				info.DataEncrypted = true
			}
		default:
			return Info{}, fmt.Errorf("unexpected header property %#x", id)
		}
	}
}

func skipArchiveProps(r *headerReader) {
	for {
		id := r.byte()
		if r.err != nil || id == idEnd {
			return
		}
		r.skip(r.number())
	}
}

// decodeHeaderStreams inflates the folder holding a packed header. 7-Zip
// compresses headers with a single LZMA or LZMA2 coder; Copy shows up in
// archives from other writers.
func decodeHeaderStreams(f *os.File, si *streamsRecord) ([]byte, error) {
	if len(si.folders) != 1 || len(si.packSizes) != 1 {
		return nil, errors.New("unsupported encoded header layout")
	}
	folder := si.folders[0]
	if len(folder.coders) != 1 {
		return nil, errors.New("unsupported encoded header coder chain")
	}
	coder := folder.coders[0]
	if len(folder.unpackSizes) == 0 {
		return nil, errors.New("missing header unpack size")
	}
	unpackSize := folder.unpackSizes[0]
	if unpackSize > maxHeaderSize {
		return nil, errors.New("header too large")
	}
	packed := io.NewSectionReader(f, 32+int64(si.packPos), int64(si.packSizes[0]))

	var src io.Reader
	switch {
	case bytes.Equal(coder.id, coderCopy):
		src = packed
	case bytes.Equal(coder.id, coderLZMA):
		if len(coder.props) != 5 {
			return nil, errors.New("bad lzma properties")
		}
		if dict := binary.LittleEndian.Uint32(coder.props[1:5]); dict > maxHeaderSize {
			return nil, errors.New("header dictionary too large")
		}
		// The classic .lzma stream layout is the 5 property bytes
		// followed by the 64-bit uncompressed size, so synthesize that
		// prefix in front of the packed bytes.
		synth := make([]byte, 13)
		copy(synth, coder.props)
		binary.LittleEndian.PutUint64(synth[5:], unpackSize)
		lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(synth), packed))
		if err != nil {
			return nil, err
		}
		src = lr
	case bytes.Equal(coder.id, coderLZMA2):
		if len(coder.props) != 1 {
			return nil, errors.New("bad lzma2 properties")
		}
		dictCap := lzma2DictCap(coder.props[0])
		if dictCap == 0 || dictCap > maxHeaderSize {
			return nil, errors.New("header dictionary too large")
		}
		lr, err := lzma.Reader2Config{DictCap: int(dictCap)}.NewReader2(packed)
		if err != nil {
			return nil, err
		}
		src = lr
	default:
		return nil, fmt.Errorf("unsupported header codec % x", coder.id)
	}

	out := make([]byte, unpackSize)
	if _, err := io.ReadFull(src, out); err != nil {
		return nil, err
	}
	return out, nil
}

type coderRecord struct {
	id    []byte
	props []byte
	in    uint64
	out   uint64
}

type folderRecord struct {
	coders      []coderRecord
	bindPairs   [][2]uint64
	packedIdx   []uint64
	unpackSizes []uint64
	crcDefined  bool
}

func (f *folderRecord) totalOut() uint64 {
	var n uint64
	for _, c := range f.coders {
		n += c.out
	}
	return n
}

type streamsRecord struct {
	packPos   uint64
	packSizes []uint64
	folders   []folderRecord
}

func (s *streamsRecord) usesAES() bool {
	for _, f := range s.folders {
		for _, c := range f.coders {
			if bytes.Equal(c.id, coderAES) {
				return true
			}
		}
	}
	return false
}

func parseStreamsInfo(r *headerReader) (*streamsRecord, error) {
	si := &streamsRecord{}
	for {
		id := r.byte()
		if r.err != nil {
			return nil, r.err
		}
		switch id {
		case idEnd:
			return si, nil
		case idPackInfo:
			parsePackInfo(r, si)
		case idUnpackInfo:
			parseUnpackInfo(r, si)
		case idSubStreamsInfo:
			skipSubStreamsInfo(r, si)
		default:
			return nil, fmt.Errorf("unexpected streams property %#x", id)
		}
		if r.err != nil {
			return nil, r.err
		}
	}
}

func parsePackInfo(r *headerReader, si *streamsRecord) {
	si.packPos = r.number()
	n := r.count(1 << 20)
	for {
		switch id := r.byte(); {
		case id == idEnd || r.err != nil:
			return
		case id == idSize:
			for i := 0; i < n; i++ {
				si.packSizes = append(si.packSizes, r.number())
			}
		case id == idCRC:
			skipDigests(r, n)
		default:
			r.fail(fmt.Errorf("unexpected pack property %#x", id))
		}
	}
}

func parseUnpackInfo(r *headerReader, si *streamsRecord) {
	if r.byte() != idFolder {
		r.fail(errors.New("missing folder property"))
		return
	}
	n := r.count(1 << 20)
	if r.byte() != 0 {
		r.fail(errors.New("external folders unsupported"))
		return
	}
	for i := 0; i < n && r.err == nil; i++ {
		si.folders = append(si.folders, parseFolder(r))
	}
	for {
		switch id := r.byte(); {
		case id == idEnd || r.err != nil:
			return
		case id == idCodersUnpackSize:
			for i := range si.folders {
				f := &si.folders[i]
				for j := uint64(0); j < f.totalOut(); j++ {
					f.unpackSizes = append(f.unpackSizes, r.number())
				}
			}
		case id == idCRC:
			defined := readDigestDefined(r, len(si.folders))
			for i, d := range defined {
				si.folders[i].crcDefined = d
				if d {
					r.skip(4)
				}
			}
		default:
			r.fail(fmt.Errorf("unexpected unpack property %#x", id))
		}
	}
}

func parseFolder(r *headerReader) folderRecord {
	var f folderRecord
	numCoders := r.count(64)
	for i := 0; i < numCoders && r.err == nil; i++ {
		flags := r.byte()
		c := coderRecord{id: r.bytes(uint64(flags & 0x0f)), in: 1, out: 1}
		if flags&coderFlagComplex != 0 {
			c.in = r.number()
			c.out = r.number()
		}
		if flags&coderFlagAttrs != 0 {
			c.props = r.bytes(r.number())
		}
		if flags&0x80 != 0 {
			r.fail(errors.New("alternative coder methods unsupported"))
		}
		f.coders = append(f.coders, c)
	}
	var numIn, numOut uint64
	for _, c := range f.coders {
		numIn += c.in
		numOut += c.out
	}
	if numOut == 0 {
		r.fail(errors.New("folder with no output streams"))
		return f
	}
	for i := uint64(0); i+1 < numOut && r.err == nil; i++ {
		f.bindPairs = append(f.bindPairs, [2]uint64{r.number(), r.number()})
	}
	numBind := uint64(len(f.bindPairs))
	if numIn < numBind {
		r.fail(errors.New("bind pairs exceed input streams"))
		return f
	}
	if packed := numIn - numBind; packed > 1 {
		for i := uint64(0); i < packed && r.err == nil; i++ {
			f.packedIdx = append(f.packedIdx, r.number())
		}
	}
	return f
}

// skipSubStreamsInfo walks the substream section without retaining it.
// The digest count depends on which folders already carry a CRC, so the
// folder records are needed to skip accurately.
func skipSubStreamsInfo(r *headerReader, si *streamsRecord) {
	counts := make([]uint64, len(si.folders))
	for i := range counts {
		counts[i] = 1
	}
	id := r.byte()
	if id == idNumUnpackStream {
		for i := range counts {
			counts[i] = r.number()
		}
		id = r.byte()
	}
	if id == idSize {
		for _, c := range counts {
			for j := uint64(1); j < c; j++ {
				r.number()
			}
		}
		id = r.byte()
	}
	if id == idCRC {
		need := 0
		for i, c := range counts {
			if c == 1 && si.folders[i].crcDefined {
				continue
			}
			need += int(c)
		}
		skipDigests(r, need)
		id = r.byte()
	}
	if id != idEnd {
		r.fail(fmt.Errorf("unexpected substreams property %#x", id))
	}
}

func readDigestDefined(r *headerReader, n int) []bool {
	if r.byte() != 0 {
		out := make([]bool, n)
		for i := range out {
			out[i] = true
		}
		return out
	}
	return r.boolVector(n)
}

func skipDigests(r *headerReader, n int) {
	for _, d := range readDigestDefined(r, n) {
		if d {
			r.skip(4)
		}
	}
}

// headerReader walks a header buffer with a sticky error so parse code
// can stay linear.
type headerReader struct {
	b   []byte
	off int
	err error
}

func (r *headerReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *headerReader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.b) {
		r.fail(io.ErrUnexpectedEOF)
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *headerReader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.off) {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	v := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return v
}

func (r *headerReader) skip(n uint64) {
	r.bytes(n)
}

// number decodes the 7z variable-length integer encoding.
func (r *headerReader) number() uint64 {
	first := r.byte()
	var v uint64
	mask := byte(0x80)
	for i := 0; i < 8; i++ {
		if first&mask == 0 {
			v |= uint64(first&(mask-1)) << (8 * i)
			return v
		}
		v |= uint64(r.byte()) << (8 * i)
		mask >>= 1
	}
	return v
}

// count reads a number expected to size an allocation and bounds it.
func (r *headerReader) count(limit uint64) int {
	n := r.number()
	if n > limit {
		r.fail(fmt.Errorf("implausible count %d", n))
		return 0
	}
	return int(n)
}

func (r *headerReader) boolVector(n int) []bool {
	out := make([]bool, n)
	var cur byte
	var mask byte
	for i := range out {
		if mask == 0 {
			cur = r.byte()
			mask = 0x80
		}
		out[i] = cur&mask != 0
		mask >>= 1
	}
	return out
}
