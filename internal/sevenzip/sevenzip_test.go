package sevenzip

import (
	"bytes"
	"io/fs"
	"testing"
	"time"
)

func TestPutNumber(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{0x7f, []byte{0x7f}},
		{128, []byte{0x80, 0x80}},
		{300, []byte{0x81, 0x2c}},
		{16383, []byte{0xbf, 0xff}},
		{16384, []byte{0xc0, 0x00, 0x40}},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		putNumber(&b, tt.v)
		if !bytes.Equal(b.Bytes(), tt.want) {
			t.Errorf("putNumber(%d) = % x, want % x", tt.v, b.Bytes(), tt.want)
		}
	}
}

func TestNumberRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 255, 256, 16383, 16384, 1 << 21, 1<<32 - 1, 1 << 32, 1<<56 - 1, 1 << 56, 1<<64 - 1}
	for _, v := range values {
		var b bytes.Buffer
		putNumber(&b, v)
		r := &headerReader{b: b.Bytes()}
		got := r.number()
		if r.err != nil {
			t.Fatalf("decode %d: %v", v, r.err)
		}
		if got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
		if r.off != len(b.Bytes()) {
			t.Errorf("decode %d consumed %d of %d bytes", v, r.off, len(b.Bytes()))
		}
	}
}

func TestBoolVector(t *testing.T) {
	tests := []struct {
		bits []bool
		want []byte
	}{
		{[]bool{true, false, false, true}, []byte{0x90}},
		{[]bool{true, true, true, true, true, true, true, true}, []byte{0xff}},
		{[]bool{true, true, true, true, true, true, true, true, true}, []byte{0xff, 0x80}},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		putBoolVector(&b, tt.bits)
		if !bytes.Equal(b.Bytes(), tt.want) {
			t.Errorf("putBoolVector(%v) = % x, want % x", tt.bits, b.Bytes(), tt.want)
		}
		r := &headerReader{b: b.Bytes()}
		got := r.boolVector(len(tt.bits))
		for i := range tt.bits {
			if got[i] != tt.bits[i] {
				t.Errorf("bit %d = %v, want %v", i, got[i], tt.bits[i])
			}
		}
	}
}

func TestToFiletime(t *testing.T) {
	// The Unix epoch in 100ns intervals since 1601-01-01.
	const unixEpoch = 116444736000000000
	if got := toFiletime(time.Unix(0, 0)); got != unixEpoch {
		t.Errorf("epoch = %d, want %d", got, unixEpoch)
	}
	if got := toFiletime(time.Unix(0, 100)); got != unixEpoch+1 {
		t.Errorf("epoch+100ns = %d, want %d", got, unixEpoch+1)
	}
	if got := toFiletime(time.Unix(1, 0)); got != unixEpoch+1e7 {
		t.Errorf("epoch+1s = %d, want %d", got, uint64(unixEpoch+1e7))
	}
}

func TestWinAttributes(t *testing.T) {
	tests := []struct {
		mode fs.FileMode
		want uint32
	}{
		{fs.ModeDir | 0o755, 0x41ed8010},
		{0o644, 0x81a48000},
		{0o444, 0x81248001},
	}
	for _, tt := range tests {
		if got := winAttributes(tt.mode); got != tt.want {
			t.Errorf("winAttributes(%v) = %#x, want %#x", tt.mode, got, tt.want)
		}
	}
}

func TestLzma2Prop(t *testing.T) {
	if got := lzma2Prop(1 << 20); got != 16 {
		t.Errorf("lzma2Prop(1<<20) = %d, want 16", got)
	}
	for _, n := range []int{4096, 1 << 16, 1 << 20, 1<<20 + 1, 1 << 25} {
		p := lzma2Prop(n)
		if cap := lzma2DictCap(p); cap < uint64(n) {
			t.Errorf("lzma2DictCap(lzma2Prop(%d)) = %d, smaller than input", n, cap)
		}
		if p > 0 {
			if prev := lzma2DictCap(p - 1); prev >= uint64(n) {
				t.Errorf("lzma2Prop(%d) = %d is not minimal", n, p)
			}
		}
	}
}
