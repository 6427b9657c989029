// Package blobid computes git-style blob identifiers.
package blobid

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Size is the width of an ID in bytes.
const Size = sha1.Size

// ErrInvalidID is returned by Parse for malformed input.
var ErrInvalidID = errors.New("blobid: invalid id")

// ID is the SHA-1 digest of a blob in git object form.
type ID [Size]byte

// New returns the blob id of content.
func New(content []byte) ID {
	id, _ := FromReader(bytes.NewReader(content), int64(len(content)))
	return id
}

// FromReader streams exactly size bytes from r into the digest.
func FromReader(r io.Reader, size int64) (ID, error) {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.FormatInt(size, 10) + "\x00"))
	n, err := io.Copy(h, r)
	if err != nil {
		return ID{}, err
	}
	if n != size {
		return ID{}, fmt.Errorf("blobid: read %d bytes, want %d", n, size)
	}
	var id ID
	h.Sum(id[:0])
	return id, nil
}

// FromFile returns the blob id and size of the file at path.
func FromFile(path string) (ID, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return ID{}, 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return ID{}, 0, err
	}
	id, err := FromReader(f, fi.Size())
	if err != nil {
		return ID{}, 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return id, fi.Size(), nil
}

// Parse decodes a 40 character hex string.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != 2*Size {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Bytes returns a copy of the digest.
func (id ID) Bytes() []byte { return append([]byte(nil), id[:]...) }

// PartitionKey is the leading byte of the digest. SHA-1 output makes it
// close to uniform, so it can index a 256-way partition directly.
func (id ID) PartitionKey() uint8 { return id[0] }
