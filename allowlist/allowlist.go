// Package allowlist short-circuits classification for known-benign
// files identified by BLAKE3 digest. Lookups go through an xor filter
// first so the common miss costs a couple of cache lines, then confirm
// against the full digest set because a filter false positive here
// would suppress a real scan.
package allowlist

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/FastFilter/xorfilter"

	"pescan/hasher"
	"pescan/logger"
)

type Set struct {
	filter  *xorfilter.Xor8
	digests map[[hasher.DigestSize]byte]struct{}
}

// Load reads newline-delimited hex BLAKE3 digests. Blank lines and
// '#' comments are skipped; malformed lines are logged and dropped.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allowlist %s: %w", path, err)
	}
	defer f.Close()

	digests := make(map[[hasher.DigestSize]byte]struct{})
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil || len(raw) != hasher.DigestSize {
			logger.Warnf("Allowlist %s line %d: not a %d-byte hex digest, skipped", path, lineNo, hasher.DigestSize)
			continue
		}
		var digest [hasher.DigestSize]byte
		copy(digest[:], raw)
		digests[digest] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allowlist %s: %w", path, err)
	}
	if len(digests) == 0 {
		return nil, fmt.Errorf("allowlist %s contains no usable digests", path)
	}

	// Populate rejects duplicate keys, and distinct digests can
	// collide on their first 8 bytes.
	keySet := make(map[uint64]struct{}, len(digests))
	for digest := range digests {
		keySet[filterKey(digest)] = struct{}{}
	}
	keys := make([]uint64, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	filter, err := xorfilter.Populate(keys)
	if err != nil {
		return nil, fmt.Errorf("build allowlist filter: %w", err)
	}

	logger.Infof("Allowlist loaded: %d known-benign digests from %s", len(digests), path)
	return &Set{filter: filter, digests: digests}, nil
}

// Len reports the number of allowlisted digests.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.digests)
}

// Contains reports whether a digest is allowlisted.
func (s *Set) Contains(digest [hasher.DigestSize]byte) bool {
	if s == nil {
		return false
	}
	if !s.filter.Contains(filterKey(digest)) {
		return false
	}
	_, ok := s.digests[digest]
	return ok
}

// ContainsHex is Contains for transport-format digests.
func (s *Set) ContainsHex(digest string) bool {
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != hasher.DigestSize {
		return false
	}
	var key [hasher.DigestSize]byte
	copy(key[:], raw)
	return s.Contains(key)
}

func filterKey(digest [hasher.DigestSize]byte) uint64 {
	return binary.LittleEndian.Uint64(digest[:8])
}
