package goarc

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Even seconds, because zip stores DOS times with two-second granularity.
var treeMtime = time.Date(2024, 5, 6, 10, 30, 42, 0, time.UTC)

type treeDir struct {
	rel  string
	perm fs.FileMode
}

type treeFile struct {
	rel     string
	content []byte
	perm    fs.FileMode
}

var sourceDirs = []treeDir{
	{"docs", 0o755},
	{"deep", 0o755},
	{"deep/nested", 0o700},
}

var sourceFiles = []treeFile{
	{"docs/guide.md", []byte("# field guide\n\nunpack, verify, repack.\n"), 0o644},
	{"docs/blob.bin", bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 32<<10), 0o600},
	{"deep/nested/leaf.txt", []byte("leaf"), 0o640},
	{"empty.txt", nil, 0o644},
}

func buildSourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range sourceDirs {
		full := filepath.Join(root, d.rel)
		if err := os.MkdirAll(full, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(full, d.perm); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range sourceFiles {
		full := filepath.Join(root, f.rel)
		if err := os.WriteFile(full, f.content, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(full, f.perm); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(full, treeMtime, treeMtime); err != nil {
			t.Fatal(err)
		}
	}
	for _, d := range sourceDirs {
		if err := os.Chtimes(filepath.Join(root, d.rel), treeMtime, treeMtime); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func compareTrees(t *testing.T, dest string) {
	t.Helper()
	for _, d := range sourceDirs {
		full := filepath.Join(dest, filepath.FromSlash(d.rel))
		info, err := os.Stat(full)
		if err != nil {
			t.Errorf("dir %s: %v", d.rel, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d.rel)
			continue
		}
		if info.Mode().Perm() != d.perm {
			t.Errorf("dir %s mode = %v, want %v", d.rel, info.Mode().Perm(), d.perm)
		}
		if !info.ModTime().Equal(treeMtime) {
			t.Errorf("dir %s mtime = %v, want %v", d.rel, info.ModTime().UTC(), treeMtime)
		}
	}
	for _, f := range sourceFiles {
		full := filepath.Join(dest, filepath.FromSlash(f.rel))
		info, err := os.Stat(full)
		if err != nil {
			t.Errorf("file %s: %v", f.rel, err)
			continue
		}
		if info.Mode().Perm() != f.perm {
			t.Errorf("file %s mode = %v, want %v", f.rel, info.Mode().Perm(), f.perm)
		}
		if !info.ModTime().Equal(treeMtime) {
			t.Errorf("file %s mtime = %v, want %v", f.rel, info.ModTime().UTC(), treeMtime)
		}
		got, err := os.ReadFile(full)
		if err != nil {
			t.Errorf("file %s: %v", f.rel, err)
			continue
		}
		if !bytes.Equal(got, f.content) {
			t.Errorf("file %s: %d bytes back, want %d", f.rel, len(got), len(f.content))
		}
	}
}

func TestRoundTripTreeFormats(t *testing.T) {
	formats := []Format{
		FormatZip,
		FormatTar,
		FormatTarGzip,
		FormatTarBzip2,
		FormatTarXz,
		FormatSevenZip,
		FormatTarZstd,
		FormatTarLz4,
	}
	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			src := buildSourceTree(t)
			arc := filepath.Join(t.TempDir(), "tree"+format.Extension())
			if err := Compress(context.Background(), src, arc, format, CompressFlags{Logger: discardLogger()}); err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if !IsSupportedArchive(arc) {
				t.Errorf("IsSupportedArchive(%q) = false", arc)
			}
			dest := t.TempDir()
			if err := Extract(context.Background(), arc, dest, ExtractFlags{Logger: discardLogger()}); err != nil {
				t.Fatalf("Extract: %v", err)
			}
			compareTrees(t, dest)
		})
	}
}

func TestRoundTripSingleFile(t *testing.T) {
	content := bytes.Repeat([]byte("sensor log line 0251\n"), 4096)
	tests := []struct {
		format      Format
		level       int
		want        string
		keepMode    bool
		keepModTime bool
	}{
		{format: FormatZip, want: "report.txt", keepMode: true, keepModTime: true},
		{format: FormatTarGzip, want: "report.txt", keepMode: true, keepModTime: true},
		{format: FormatSevenZip, want: "report.txt", keepMode: true, keepModTime: true},
		// A bare gzip stream carries the source name and mtime in its
		// header; the other raw codecs carry nothing and fall back to
		// a fixed entry name.
		{format: FormatGzip, level: 9, want: "report.txt", keepModTime: true},
		{format: FormatBzip2, want: "data"},
		{format: FormatXz, want: "data"},
		{format: FormatZstd, want: "data"},
		{format: FormatLz4, want: "data"},
	}
	for _, tc := range tests {
		t.Run(tc.format.String(), func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "report.txt")
			if err := os.WriteFile(src, content, 0o640); err != nil {
				t.Fatal(err)
			}
			if err := os.Chmod(src, 0o640); err != nil {
				t.Fatal(err)
			}
			if err := os.Chtimes(src, treeMtime, treeMtime); err != nil {
				t.Fatal(err)
			}

			arc := filepath.Join(t.TempDir(), "single"+tc.format.Extension())
			flags := CompressFlags{Level: tc.level, Logger: discardLogger()}
			if err := Compress(context.Background(), src, arc, tc.format, flags); err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if !IsSupportedArchive(arc) {
				t.Errorf("IsSupportedArchive(%q) = false", arc)
			}

			dest := t.TempDir()
			if err := Extract(context.Background(), arc, dest, ExtractFlags{Logger: discardLogger()}); err != nil {
				t.Fatalf("Extract: %v", err)
			}
			out := filepath.Join(dest, tc.want)
			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("extracted file: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Fatalf("extracted %d bytes, want %d", len(got), len(content))
			}
			info, err := os.Stat(out)
			if err != nil {
				t.Fatal(err)
			}
			if tc.keepMode && info.Mode().Perm() != 0o640 {
				t.Errorf("mode = %v, want 0640", info.Mode().Perm())
			}
			if tc.keepModTime && !info.ModTime().Equal(treeMtime) {
				t.Errorf("mtime = %v, want %v", info.ModTime().UTC(), treeMtime)
			}
		})
	}
}
