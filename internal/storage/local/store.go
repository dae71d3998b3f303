// Package local is the filesystem counterpart of the s3 store. Reads
// need no store at all (archives open straight from their path), so only
// the write side lives here.
package local

import (
	"fmt"
	"io"
	"os"

	"github.com/goarc/goarc/internal/locator"
)

type Store struct{}

func (s *Store) OpenWriter(ref locator.Ref) (io.WriteCloser, error) {
	if ref.Kind != locator.KindLocal {
		return nil, fmt.Errorf("unsupported local archive ref kind %s", ref.Kind)
	}
	return os.Create(ref.Path)
}
