//go:build unix

package paxattr

import (
	"bytes"
	"strings"

	"golang.org/x/sys/unix"
)

func ReadPathMetadata(path string) (map[string][]byte, map[string][]byte, error) {
	names, err := listXattr(path)
	if err != nil {
		return nil, nil, err
	}
	xattrs := make(map[string][]byte)
	acls := make(map[string][]byte)
	for _, name := range names {
		v, err := getXattr(path, name)
		if err != nil {
			continue
		}
		if strings.Contains(name, "acl") {
			acls[name] = v
			continue
		}
		xattrs[name] = v
	}
	return xattrs, acls, nil
}

// WritePathMetadata applies xattrs and ACLs to path. Individual set
// failures are ignored: filesystems differ in what they accept, and a
// missing attribute should not abort an extraction.
func WritePathMetadata(path string, xattrs map[string][]byte, acls map[string][]byte) {
	for k, v := range xattrs {
		_ = unix.Setxattr(path, k, v, 0)
	}
	for k, v := range acls {
		_ = unix.Setxattr(path, k, v, 0)
	}
}

func listXattr(path string) ([]string, error) {
	sz, err := unix.Listxattr(path, nil)
	if err != nil || sz <= 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	n, err := unix.Listxattr(path, buf)
	if err != nil {
		return nil, err
	}
	raw := bytes.Split(buf[:n], []byte{0})
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if len(r) == 0 {
			continue
		}
		out = append(out, string(r))
	}
	return out, nil
}

func getXattr(path string, key string) ([]byte, error) {
	sz, err := unix.Getxattr(path, key, nil)
	if err != nil || sz <= 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	_, err = unix.Getxattr(path, key, buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
