// Package goarc extracts and builds the archive formats a delivery
// pipeline tends to meet: zip, 7z, tar behind the common stream codecs,
// and bare compressed files. One call unpacks any of them into a
// directory, one call packs a file or a tree, and two probes answer
// whether a file is an archive at all and whether it needs a password.
//
// Archives may live on the local filesystem or in S3: anywhere an
// archive path is accepted, an s3:// URI or an S3 object ARN works too.
// Extraction destinations and compression sources stay local.
//
// Every operation reports failure through *Error, whose Code is a small
// stable integer suitable for process exit statuses or FFI boundaries.
package goarc

import (
	"log/slog"
)

// ExtractFlags adjusts a single Extract call.
type ExtractFlags struct {
	// Password decrypts protected zip and 7z content.
	Password string
	// Exclude skips entries whose archive-relative path matches any of
	// the patterns. Patterns follow doublestar syntax, so ** crosses
	// directory boundaries.
	Exclude []string
	// Logger receives per-entry diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// CompressFlags adjusts a single Compress call.
type CompressFlags struct {
	// Password protects the output where the format supports it (zip and
	// 7z). Other formats log a warning and ignore it.
	Password string
	// Level is the codec-native compression level. Zero selects each
	// codec's default.
	Level int
	// Exclude skips source paths whose archive-relative form matches any
	// of the patterns.
	Exclude []string
	// Logger receives per-entry diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
