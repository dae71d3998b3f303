package goarc

import (
	"context"
	"errors"
	"io"
)

const copyBlockSize = 8192

// sinkError marks a failure on the write side of a copy, so callers can
// tell disk-full apart from a source that would not decode.
type sinkError struct {
	err error
}

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// copyData moves entry data in fixed blocks, checking for cancellation
// before every read. Write failures come back as *sinkError; read
// failures and context errors come back unwrapped.
func copyData(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyBlockSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return &sinkError{err: werr}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}
