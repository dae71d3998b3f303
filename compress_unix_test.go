//go:build unix

package goarc

import (
	"context"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCompressRejectsSpecialSource(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "pipe")
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	arc := filepath.Join(t.TempDir(), "pipe.tar")
	err := Compress(context.Background(), fifo, arc, FormatTar, CompressFlags{Logger: discardLogger()})
	if got := CodeOf(err); got != CodeUnsupportedFormat {
		t.Fatalf("code = %d (%v), want %d", got, err, CodeUnsupportedFormat)
	}
}
