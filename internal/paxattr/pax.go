// Package paxattr encodes extended attributes and ACLs into PAX records so
// the tar container can carry them, and applies them back to extracted
// paths on unix.
package paxattr

import (
	"archive/tar"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const (
	xattrPrefix = "GOARC.xattr."
	aclPrefix   = "GOARC.acl."
)

func EnsurePAX(hdr *tar.Header) {
	if hdr.PAXRecords == nil {
		hdr.PAXRecords = make(map[string]string)
	}
}

func EncodeXattrToPAX(hdr *tar.Header, attrs map[string][]byte) {
	if len(attrs) == 0 {
		return
	}
	EnsurePAX(hdr)
	for k, v := range attrs {
		hdr.PAXRecords[xattrPrefix+url.QueryEscape(k)] = base64.StdEncoding.EncodeToString(v)
	}
}

func DecodeXattrFromPAX(hdr *tar.Header) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for k, v := range hdr.PAXRecords {
		if !strings.HasPrefix(k, xattrPrefix) {
			continue
		}
		name, err := url.QueryUnescape(strings.TrimPrefix(k, xattrPrefix))
		if err != nil {
			return nil, fmt.Errorf("decode xattr name: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode xattr %q: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

func EncodeACLToPAX(hdr *tar.Header, acls map[string][]byte) {
	if len(acls) == 0 {
		return
	}
	EnsurePAX(hdr)
	for k, v := range acls {
		hdr.PAXRecords[aclPrefix+k] = base64.StdEncoding.EncodeToString(v)
	}
}

func DecodeACLFromPAX(hdr *tar.Header) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for k, v := range hdr.PAXRecords {
		if !strings.HasPrefix(k, aclPrefix) {
			continue
		}
		name := strings.TrimPrefix(k, aclPrefix)
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode acl %q: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}
