package sevenzip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"unicode/utf16"
)

// kdfCyclesPower is the exponent of the SHA-256 round count used by the
// AES coder key derivation. 19 matches what 7-Zip itself writes.
const kdfCyclesPower = 19

const aesSaltSize = 16

// deriveKey runs the 7z key derivation: a single SHA-256 over
// salt || password(UTF-16LE) || counter for 2^power rounds.
func deriveKey(password string, salt []byte, power uint) []byte {
	pass := utf16lePassword(password)
	h := sha256.New()
	var counter [8]byte
	rounds := uint64(1) << power
	for i := uint64(0); i < rounds; i++ {
		binary.LittleEndian.PutUint64(counter[:], i)
		h.Write(salt)
		h.Write(pass)
		h.Write(counter[:])
	}
	return h.Sum(nil)
}

func utf16lePassword(password string) []byte {
	u := utf16.Encode([]rune(password))
	b := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[2*i:], c)
	}
	return b
}

// aesProperties encodes the coder property blob: one byte holding the KDF
// cycle count plus salt/IV presence flags, one byte with their sizes, then
// the salt and IV bytes themselves.
func aesProperties(salt, iv []byte) []byte {
	p := make([]byte, 0, 2+len(salt)+len(iv))
	first := byte(kdfCyclesPower)
	if len(salt) > 0 {
		first |= 0x80
	}
	if len(iv) > 0 {
		first |= 0x40
	}
	p = append(p, first)
	var sizes byte
	if len(salt) > 0 {
		sizes |= byte(len(salt)-1) << 4
	}
	if len(iv) > 0 {
		sizes |= byte(len(iv) - 1)
	}
	p = append(p, sizes)
	p = append(p, salt...)
	p = append(p, iv...)
	return p
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// cbcWriter encrypts its input with AES-256-CBC. Close zero-pads the
// final partial block, as the 7z AES coder expects.
type cbcWriter struct {
	dst     io.Writer
	mode    cipher.BlockMode
	part    [aes.BlockSize]byte
	n       int
	scratch [4096]byte
}

func newCBCWriter(dst io.Writer, key, iv []byte) (*cbcWriter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	full := make([]byte, aes.BlockSize)
	copy(full, iv)
	return &cbcWriter{dst: dst, mode: cipher.NewCBCEncrypter(block, full)}, nil
}

func (c *cbcWriter) Write(p []byte) (int, error) {
	written := 0
	if c.n > 0 {
		k := copy(c.part[c.n:], p)
		c.n += k
		p = p[k:]
		written += k
		if c.n < aes.BlockSize {
			return written, nil
		}
		c.mode.CryptBlocks(c.part[:], c.part[:])
		if _, err := c.dst.Write(c.part[:]); err != nil {
			return written, err
		}
		c.n = 0
	}
	whole := len(p) / aes.BlockSize * aes.BlockSize
	for off := 0; off < whole; {
		m := min(len(c.scratch), whole-off)
		copy(c.scratch[:m], p[off:off+m])
		c.mode.CryptBlocks(c.scratch[:m], c.scratch[:m])
		if _, err := c.dst.Write(c.scratch[:m]); err != nil {
			return written + off, err
		}
		off += m
	}
	p = p[whole:]
	written += whole
	c.n = copy(c.part[:], p)
	written += c.n
	return written, nil
}

func (c *cbcWriter) Close() error {
	if c.n == 0 {
		return nil
	}
	for i := c.n; i < aes.BlockSize; i++ {
		c.part[i] = 0
	}
	c.mode.CryptBlocks(c.part[:], c.part[:])
	c.n = 0
	_, err := c.dst.Write(c.part[:])
	return err
}
