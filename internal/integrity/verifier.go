// Package integrity verifies a companion executable against its published
// digest before the executable is ever run.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// ChunkSize is the read buffer used while hashing the executable
const ChunkSize = 1 << 20

var (
	ErrExecutableNotFound = errors.New("sidecar executable not found")
	ErrDigestNotFound     = errors.New("sidecar digest file not found")
	ErrDigestMalformed    = errors.New("invalid digest format")
	ErrDigestMismatch     = errors.New("sidecar digest mismatch")
)

// Algorithm names a supported digest algorithm
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
	BLAKE3  Algorithm = "blake3"
)

// ParseAlgorithm maps a config value to an Algorithm; empty means SHA256
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE2b:
		return BLAKE2b, nil
	case BLAKE3:
		return BLAKE3, nil
	}
	return "", fmt.Errorf("unsupported digest algorithm %q", name)
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case BLAKE2b:
		h, _ := blake2b.New256(nil) // only fails for oversized keys
		return h
	case BLAKE3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// Size is the digest length in bytes
func (a Algorithm) Size() int {
	return a.newHash().Size()
}

// Extension is the conventional digest file suffix for the algorithm
func (a Algorithm) Extension() string {
	switch a {
	case BLAKE2b:
		return ".b2"
	case BLAKE3:
		return ".b3"
	default:
		return ".sha256"
	}
}

// DigestPathFor returns the digest file that sits next to the executable
func DigestPathFor(execPath string, algo Algorithm) string {
	return execPath + algo.Extension()
}

// Record is the outcome of one verification
type Record struct {
	Path      string
	Algorithm Algorithm
	Expected  []byte
	Actual    []byte
}

// Match reports whether the computed digest equals the published one
func (r *Record) Match() bool {
	return r.Actual != nil && bytes.Equal(r.Expected, r.Actual)
}

// ParseDigest extracts the digest from checksum-file text. Only the first
// whitespace-delimited token is used, so "<hex>  <filename>" lines work.
func ParseDigest(text string) ([]byte, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: digest file is empty", ErrDigestMalformed)
	}
	digest, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestMalformed, err)
	}
	return digest, nil
}

// ReadDigest reads and parses a digest file
func ReadDigest(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDigestNotFound, path)
		}
		return nil, fmt.Errorf("failed to read digest %s: %w", path, err)
	}
	return ParseDigest(string(data))
}

// HashFile streams path through the algorithm's hash in ChunkSize reads
func HashFile(path string, algo Algorithm) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
		}
		return nil, fmt.Errorf("failed to open sidecar: %w", err)
	}
	defer f.Close()

	h := algo.newHash()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, onlyReader{f}, buf); err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	return h.Sum(nil), nil
}

// onlyReader hides *os.File's WriterTo so CopyBuffer really uses our buffer
type onlyReader struct{ io.Reader }

// Verify checks execPath against the digest in digestPath. The returned
// error wraps one of the package sentinels for every integrity failure.
func Verify(execPath, digestPath string, algo Algorithm) (*Record, error) {
	rec := &Record{Path: execPath, Algorithm: algo}

	if !exists(execPath) {
		return rec, fmt.Errorf("%w: %s", ErrExecutableNotFound, execPath)
	}
	if !exists(digestPath) {
		return rec, fmt.Errorf("%w: %s", ErrDigestNotFound, digestPath)
	}

	expected, err := ReadDigest(digestPath)
	if err != nil {
		return rec, err
	}
	if len(expected) != algo.Size() {
		return rec, fmt.Errorf("%w: expected %d bytes for %s, got %d",
			ErrDigestMalformed, algo.Size(), algo, len(expected))
	}
	rec.Expected = expected

	actual, err := HashFile(execPath, algo)
	if err != nil {
		return rec, err
	}
	rec.Actual = actual

	if !rec.Match() {
		return rec, fmt.Errorf("%w: expected %x, got %x", ErrDigestMismatch, expected, actual)
	}
	return rec, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
