// Package canonicalize produces the canonical byte form of structured values
// and their content hashes.
//
// Canonical form is RFC 8785 JSON Canonicalization Scheme (JCS): sorted keys,
// deterministic number formatting, no insignificant whitespace. Two values
// that are structurally equal always canonicalize to identical bytes, which
// makes the derived hashes usable for hash chaining and idempotent comparison.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the canonical JSON bytes of v.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return canonical, nil
}

// Hash returns the SHA-256 hash of data, prefixed with the algorithm name.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// CanonicalHash canonicalizes v and returns its content hash.
func CanonicalHash(v interface{}) (string, error) {
	canonical, err := JCS(v)
	if err != nil {
		return "", err
	}
	return Hash(canonical), nil
}
