// Package fingerprint computes content digests of uploaded images.
// A digest is the lowercase hex encoding of a fixed-size hash and is the
// per-patient deduplication key for scans.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b" // BLAKE2b-256
)

// Default is used when no algorithm is configured.
const Default = SHA256

// Fingerprinter computes digests with one algorithm.
type Fingerprinter struct {
	algo Algorithm
}

// New returns a Fingerprinter for algo. An empty name selects Default.
func New(algo string) (*Fingerprinter, error) {
	a := Algorithm(algo)
	if a == "" {
		a = Default
	}
	switch a {
	case SHA256, BLAKE2b:
		return &Fingerprinter{algo: a}, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// Algorithm returns the configured algorithm name.
func (f *Fingerprinter) Algorithm() Algorithm {
	return f.algo
}

// Sum returns the hex digest of data.
func (f *Fingerprinter) Sum(data []byte) string {
	switch f.algo {
	case BLAKE2b:
		sum := blake2b.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// SumReader streams r through the hash and returns the hex digest.
func (f *Fingerprinter) SumReader(r io.Reader) (string, error) {
	h, err := f.newHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (f *Fingerprinter) newHash() (hash.Hash, error) {
	if f.algo == BLAKE2b {
		return blake2b.New256(nil)
	}
	return sha256.New(), nil
}

// Valid reports whether s looks like a digest produced by this package:
// 64 lowercase hex characters.
func Valid(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
