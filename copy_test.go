package goarc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("stream damaged") }

func TestCopyData(t *testing.T) {
	var buf bytes.Buffer
	payload := strings.Repeat("block data ", 4096)
	if err := copyData(context.Background(), &buf, strings.NewReader(payload)); err != nil {
		t.Fatalf("copyData: %v", err)
	}
	if buf.String() != payload {
		t.Fatalf("copied %d bytes, want %d", buf.Len(), len(payload))
	}
}

func TestCopyDataCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := copyData(ctx, io.Discard, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("copyData = %v, want context.Canceled", err)
	}
}

func TestCopyDataClassifiesSides(t *testing.T) {
	var sink *sinkError

	err := copyData(context.Background(), failingWriter{}, strings.NewReader("data"))
	if !errors.As(err, &sink) {
		t.Fatalf("write failure %v not marked as sink error", err)
	}

	err = copyData(context.Background(), io.Discard, failingReader{})
	if err == nil {
		t.Fatal("read failure not reported")
	}
	if errors.As(err, &sink) {
		t.Fatalf("read failure %v wrongly marked as sink error", err)
	}
}
