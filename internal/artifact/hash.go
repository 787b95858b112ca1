// Package artifact implements content hashing and the canonical columnar
// encoding of array data published as artifacts.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// validHash matches a lowercase hex-encoded SHA256 hash (64 characters).
var validHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Hash returns the hex-encoded SHA256 digest of serialized artifact bytes.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ValidHash reports whether s has the form of an artifact hash.
func ValidHash(s string) bool {
	return validHash.MatchString(s)
}

// Artifact is an immutable serialized table together with its identity.
type Artifact struct {
	Hash     string
	Bytes    []byte
	Length   int
	Width    int
	DataType string
}

// Serialize encodes the table with the given codec and hashes the result.
func Serialize(t *Table, codec Codec) (*Artifact, error) {
	data, err := Encode(t, codec)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Hash:     Hash(data),
		Bytes:    data,
		Length:   t.Length(),
		Width:    t.Width(),
		DataType: t.DataType(),
	}, nil
}
