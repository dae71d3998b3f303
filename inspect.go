package goarc

import (
	"context"
	"errors"

	"github.com/goarc/goarc/internal/session"
)

// EncryptionStatus is the verdict of CheckEncryption.
type EncryptionStatus int

const (
	// EncryptionNone means the archive was scanned and nothing in it is
	// encrypted.
	EncryptionNone EncryptionStatus = 0
	// EncryptionPresent means at least one entry is encrypted, or the
	// archive's own metadata is.
	EncryptionPresent EncryptionStatus = 1
	// EncryptionUnknown is reserved for formats whose headers cannot
	// answer the question. No format supported today produces it.
	EncryptionUnknown EncryptionStatus = -1
	// EncryptionUnsupported means the file could not be read as an
	// archive at all.
	EncryptionUnsupported EncryptionStatus = -2
)

func (s EncryptionStatus) String() string {
	switch s {
	case EncryptionNone:
		return "none"
	case EncryptionPresent:
		return "present"
	case EncryptionUnknown:
		return "unknown"
	case EncryptionUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// CheckEncryption reports whether the archive at path contains encrypted
// content. Scanning stops at the first encrypted entry. Damaged trailing
// entries do not fail the probe: whatever was readable decides.
func CheckEncryption(path string) (EncryptionStatus, error) {
	local, cleanup, err := fetchArchive(context.Background(), path)
	if err != nil {
		return EncryptionUnsupported, wrap(CodeOpenFile, "check encryption", path, err)
	}
	defer cleanup()

	r, _, err := session.Open(local, session.ReaderOptions{})
	if err != nil {
		if errors.Is(err, session.ErrPasswordRequired) || errors.Is(err, session.ErrWrongPassword) {
			// A 7z archive whose header is itself encrypted refuses to
			// open without a password, which already answers the probe.
			return EncryptionPresent, nil
		}
		return EncryptionUnsupported, wrap(CodeOpenFile, "check encryption", path, err)
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if err != nil {
			var warn *session.Warning
			if errors.As(err, &warn) {
				if e != nil && e.Encrypted {
					return EncryptionPresent, nil
				}
				continue
			}
			// io.EOF, or a header the reader cannot get past. Nothing
			// encrypted turned up before this point.
			return EncryptionNone, nil
		}
		if e.Encrypted {
			return EncryptionPresent, nil
		}
	}
}

// IsSupportedArchive reports whether the file at path looks like an archive
// Extract can open, judging by content rather than file name.
func IsSupportedArchive(path string) bool {
	local, cleanup, err := fetchArchive(context.Background(), path)
	if err != nil {
		return false
	}
	defer cleanup()
	_, err = session.Sniff(local)
	return err == nil
}
