package sevenzip

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProbePlain(t *testing.T) {
	info, err := Probe(buildArchive(t, ""))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.HeaderEncrypted || info.DataEncrypted {
		t.Fatalf("probe = %+v, want no encryption", info)
	}
}

func TestProbeEncrypted(t *testing.T) {
	info, err := Probe(buildArchive(t, "s3cret!"))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.HeaderEncrypted {
		t.Fatal("header reported encrypted, but it is written in the clear")
	}
	if !info.DataEncrypted {
		t.Fatal("data encryption not detected")
	}
}

func TestProbeEmptyArchive(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty.7z")
	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWriter(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := Probe(name)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.HeaderEncrypted || info.DataEncrypted {
		t.Fatalf("probe = %+v, want no encryption", info)
	}
}

func TestProbeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not an archive", []byte("this is plain text, not a container")},
		{"magic only", signature},
		{"truncated signature header", append(append([]byte{}, signature...), 0, 4, 1, 2, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := filepath.Join(t.TempDir(), "bad.7z")
			if err := os.WriteFile(name, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Probe(name); err == nil {
				t.Fatal("probe accepted garbage")
			}
		})
	}
}
