package sevenzip

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ulikunitz/xz/lzma"
)

const defaultDictCap = 1 << 20

// Options configures a Writer. A non-empty Password enables the AES-256
// coder for every file stream; the header itself stays in the clear so
// entry names remain listable, which is also what 7z does by default.
type Options struct {
	Password string
	DictCap  int
}

// FileHeader describes one entry to be added to the archive.
type FileHeader struct {
	Name     string
	Mode     fs.FileMode
	Modified time.Time
}

type entry struct {
	name      string
	mode      fs.FileMode
	modified  time.Time
	hasStream bool
	encrypted bool
	size      uint64
	lzma2Size uint64
	packSize  uint64
	crc       uint32
	iv        []byte
}

// Writer assembles a 7z archive on dst. Packed streams are spooled to a
// temporary file because the header layout is not known until Close, and
// dst may not be seekable.
type Writer struct {
	dst       io.Writer
	spool     *os.File
	password  string
	dictCap   int
	salt      []byte
	key       []byte
	entries   []*entry
	cur       *fileWriter
	packTotal uint64
	closed    bool
}

// NewWriter starts a 7z archive on dst.
func NewWriter(dst io.Writer, opts Options) (*Writer, error) {
	spool, err := os.CreateTemp("", "goarc-7z-*")
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	dictCap := opts.DictCap
	if dictCap <= 0 {
		dictCap = defaultDictCap
	}
	return &Writer{dst: dst, spool: spool, password: opts.Password, dictCap: dictCap}, nil
}

// Create adds an entry and returns a writer for its contents. Directory
// entries accept no data. The previous entry is finished implicitly.
func (w *Writer) Create(hdr *FileHeader) (io.Writer, error) {
	if w.closed {
		return nil, errors.New("sevenzip: writer closed")
	}
	if err := w.finishCurrent(); err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(strings.TrimPrefix(hdr.Name, "./"), "/")
	if name == "" || name == "." {
		return nil, fmt.Errorf("sevenzip: invalid entry name %q", hdr.Name)
	}
	e := &entry{name: name, mode: hdr.Mode, modified: hdr.Modified}
	w.entries = append(w.entries, e)
	if hdr.Mode.IsDir() {
		return dirWriter{}, nil
	}
	w.cur = &fileWriter{arc: w, e: e}
	return w.cur, nil
}

func (w *Writer) finishCurrent() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.finish()
	w.cur = nil
	return err
}

func (w *Writer) initKey() error {
	if w.key != nil {
		return nil
	}
	salt, err := randomBytes(aesSaltSize)
	if err != nil {
		return err
	}
	w.salt = salt
	w.key = deriveKey(w.password, salt, kdfCyclesPower)
	return nil
}

// Close finishes the last entry, writes the signature header, the spooled
// streams and the archive header, and removes the spool file.
func (w *Writer) Close() (retErr error) {
	if w.closed {
		return nil
	}
	w.closed = true
	defer func() {
		name := w.spool.Name()
		if cerr := w.spool.Close(); cerr != nil && retErr == nil {
			retErr = cerr
		}
		if rerr := os.Remove(name); rerr != nil && retErr == nil {
			retErr = rerr
		}
	}()
	if err := w.finishCurrent(); err != nil {
		return err
	}

	var hdr bytes.Buffer
	w.encodeHeader(&hdr)

	var start bytes.Buffer
	putUint64(&start, w.packTotal)
	putUint64(&start, uint64(hdr.Len()))
	putUint32(&start, crc32.ChecksumIEEE(hdr.Bytes()))

	var sig bytes.Buffer
	sig.Write(signature)
	sig.WriteByte(0)
	sig.WriteByte(4)
	putUint32(&sig, crc32.ChecksumIEEE(start.Bytes()))
	sig.Write(start.Bytes())

	if _, err := w.dst.Write(sig.Bytes()); err != nil {
		return err
	}
	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(w.dst, w.spool); err != nil {
		return err
	}
	_, err := w.dst.Write(hdr.Bytes())
	return err
}

func (w *Writer) streamed() []*entry {
	var out []*entry
	for _, e := range w.entries {
		if e.hasStream {
			out = append(out, e)
		}
	}
	return out
}

func (w *Writer) encodeHeader(b *bytes.Buffer) {
	b.WriteByte(idHeader)
	streamed := w.streamed()
	if len(streamed) > 0 {
		b.WriteByte(idMainStreamsInfo)
		w.encodePackInfo(b, streamed)
		w.encodeUnpackInfo(b, streamed)
		b.WriteByte(idSubStreamsInfo)
		b.WriteByte(idEnd)
		b.WriteByte(idEnd)
	}
	if len(w.entries) > 0 {
		w.encodeFilesInfo(b)
	}
	b.WriteByte(idEnd)
}

func (w *Writer) encodePackInfo(b *bytes.Buffer, streamed []*entry) {
	b.WriteByte(idPackInfo)
	putNumber(b, 0)
	putNumber(b, uint64(len(streamed)))
	b.WriteByte(idSize)
	for _, e := range streamed {
		putNumber(b, e.packSize)
	}
	b.WriteByte(idEnd)
}

func (w *Writer) encodeUnpackInfo(b *bytes.Buffer, streamed []*entry) {
	b.WriteByte(idUnpackInfo)
	b.WriteByte(idFolder)
	putNumber(b, uint64(len(streamed)))
	b.WriteByte(0)
	for _, e := range streamed {
		w.encodeFolder(b, e)
	}
	b.WriteByte(idCodersUnpackSize)
	for _, e := range streamed {
		putNumber(b, e.size)
		if e.encrypted {
			putNumber(b, e.lzma2Size)
		}
	}
	b.WriteByte(idCRC)
	b.WriteByte(1)
	for _, e := range streamed {
		putUint32(b, e.crc)
	}
	b.WriteByte(idEnd)
}

// encodeFolder writes one folder. Plain folders hold a single LZMA2
// coder. Encrypted folders chain LZMA2 into AES: the packed stream feeds
// the AES input, and one bind pair routes the AES output (stream index 1)
// into the LZMA2 input (stream index 0).
func (w *Writer) encodeFolder(b *bytes.Buffer, e *entry) {
	numCoders := uint64(1)
	if e.encrypted {
		numCoders = 2
	}
	putNumber(b, numCoders)
	b.WriteByte(byte(len(coderLZMA2)) | coderFlagAttrs)
	b.Write(coderLZMA2)
	putNumber(b, 1)
	b.WriteByte(lzma2Prop(w.dictCap))
	if !e.encrypted {
		return
	}
	b.WriteByte(byte(len(coderAES)) | coderFlagAttrs)
	b.Write(coderAES)
	props := aesProperties(w.salt, e.iv)
	putNumber(b, uint64(len(props)))
	b.Write(props)
	putNumber(b, 0)
	putNumber(b, 1)
}

func (w *Writer) encodeFilesInfo(b *bytes.Buffer) {
	b.WriteByte(idFilesInfo)
	putNumber(b, uint64(len(w.entries)))

	emptyStreams := make([]bool, len(w.entries))
	anyEmptyStream, anyEmptyFile := false, false
	for i, e := range w.entries {
		if !e.hasStream {
			emptyStreams[i] = true
			anyEmptyStream = true
			if !e.mode.IsDir() {
				anyEmptyFile = true
			}
		}
	}
	if anyEmptyStream {
		var sec bytes.Buffer
		putBoolVector(&sec, emptyStreams)
		writeProperty(b, idEmptyStream, sec.Bytes())
	}
	if anyEmptyFile {
		var bits []bool
		for _, e := range w.entries {
			if !e.hasStream {
				bits = append(bits, !e.mode.IsDir())
			}
		}
		var sec bytes.Buffer
		putBoolVector(&sec, bits)
		writeProperty(b, idEmptyFile, sec.Bytes())
	}

	var names bytes.Buffer
	names.WriteByte(0)
	for _, e := range w.entries {
		utf16le(&names, e.name)
	}
	writeProperty(b, idName, names.Bytes())

	var times bytes.Buffer
	times.WriteByte(1)
	times.WriteByte(0)
	for _, e := range w.entries {
		putUint64(&times, toFiletime(e.modified))
	}
	writeProperty(b, idMTime, times.Bytes())

	var attrs bytes.Buffer
	attrs.WriteByte(1)
	attrs.WriteByte(0)
	for _, e := range w.entries {
		putUint32(&attrs, winAttributes(e.mode))
	}
	writeProperty(b, idWinAttributes, attrs.Bytes())

	b.WriteByte(idEnd)
}

func writeProperty(b *bytes.Buffer, id byte, payload []byte) {
	b.WriteByte(id)
	putNumber(b, uint64(len(payload)))
	b.Write(payload)
}

// fileWriter compresses one entry into its own folder. The coder chain is
// built lazily on the first write so that entries which never receive
// data become empty-stream entries instead of zero-length folders.
type fileWriter struct {
	arc  *Writer
	e    *entry
	lz   *lzma.Writer2
	enc  *cbcWriter
	mid  *countWriter
	pack *countWriter
	crc  hash.Hash32
	done bool
}

func (f *fileWriter) Write(p []byte) (int, error) {
	if f.done {
		return 0, errors.New("sevenzip: entry already finished")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.lz == nil {
		if err := f.start(); err != nil {
			return 0, err
		}
	}
	n, err := f.lz.Write(p)
	f.crc.Write(p[:n])
	f.e.size += uint64(n)
	return n, err
}

func (f *fileWriter) start() error {
	f.pack = &countWriter{w: f.arc.spool}
	var sink io.Writer = f.pack
	if f.arc.password != "" {
		if err := f.arc.initKey(); err != nil {
			return err
		}
		iv, err := randomBytes(16)
		if err != nil {
			return err
		}
		enc, err := newCBCWriter(sink, f.arc.key, iv)
		if err != nil {
			return err
		}
		f.e.iv = iv
		f.e.encrypted = true
		f.enc = enc
		sink = enc
	}
	f.mid = &countWriter{w: sink}
	lz, err := lzma.Writer2Config{DictCap: f.arc.dictCap}.NewWriter2(f.mid)
	if err != nil {
		return err
	}
	f.lz = lz
	f.crc = crc32.NewIEEE()
	return nil
}

func (f *fileWriter) finish() error {
	if f.done {
		return nil
	}
	f.done = true
	if f.lz == nil {
		return nil
	}
	if err := f.lz.Close(); err != nil {
		return err
	}
	f.e.lzma2Size = f.mid.n
	if f.enc != nil {
		if err := f.enc.Close(); err != nil {
			return err
		}
	}
	f.e.hasStream = true
	f.e.packSize = f.pack.n
	f.e.crc = f.crc.Sum32()
	f.arc.packTotal += f.e.packSize
	return nil
}

type countWriter struct {
	w io.Writer
	n uint64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

type dirWriter struct{}

func (dirWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		return 0, errors.New("sevenzip: write to directory entry")
	}
	return 0, nil
}
