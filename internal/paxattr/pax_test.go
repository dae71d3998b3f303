package paxattr

import (
	"archive/tar"
	"bytes"
	"testing"
)

func TestXattrPAXRoundTrip(t *testing.T) {
	hdr := &tar.Header{Name: "file.txt"}
	in := map[string][]byte{
		"user.mime_type":   []byte("text/plain"),
		"user.with space":  []byte("v1"),
		"user.with=equals": {0x00, 0x01, 0xff},
	}
	EncodeXattrToPAX(hdr, in)

	got, err := DecodeXattrFromPAX(hdr)
	if err != nil {
		t.Fatalf("DecodeXattrFromPAX() error = %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("decoded %d attrs, want %d", len(got), len(in))
	}
	for k, v := range in {
		if !bytes.Equal(got[k], v) {
			t.Fatalf("attr %q = %v, want %v", k, got[k], v)
		}
	}
}

func TestACLPAXRoundTrip(t *testing.T) {
	hdr := &tar.Header{Name: "file.txt"}
	in := map[string][]byte{
		"system.posix_acl_access":  []byte("acl-a"),
		"system.posix_acl_default": []byte("acl-b"),
	}
	EncodeACLToPAX(hdr, in)

	got, err := DecodeACLFromPAX(hdr)
	if err != nil {
		t.Fatalf("DecodeACLFromPAX() error = %v", err)
	}
	for k, v := range in {
		if !bytes.Equal(got[k], v) {
			t.Fatalf("acl %q = %v, want %v", k, got[k], v)
		}
	}
}

func TestEncodeEmptyLeavesHeaderUntouched(t *testing.T) {
	hdr := &tar.Header{Name: "file.txt"}
	EncodeXattrToPAX(hdr, nil)
	EncodeACLToPAX(hdr, nil)
	if hdr.PAXRecords != nil {
		t.Fatalf("PAXRecords = %v, want nil", hdr.PAXRecords)
	}
}
