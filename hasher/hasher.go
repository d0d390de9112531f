package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"lukechampine.com/blake3"

	"pescan/logger"
)

// DigestSize is the byte length of the BLAKE3 digests used as file
// identities across the service (responses, allowlist, batch reports).
const DigestSize = 32

// Blake3Sum computes the canonical file identity digest.
func Blake3Sum(data []byte) [DigestSize]byte {
	return blake3.Sum256(data)
}

// Blake3Hex is Blake3Sum rendered for transport.
func Blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeDigests hashes an in-memory payload with the requested
// algorithms. Unknown algorithm names are logged and skipped so a
// misconfigured list still yields the rest.
func ComputeDigests(data []byte, algorithms []string) map[string]string {
	digests := make(map[string]string, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))

	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		seen[algo] = struct{}{}

		var h hash.Hash
		switch algo {
		case "md5":
			h = md5.New()
		case "sha1":
			h = sha1.New()
		case "sha256":
			h = sha256.New()
		case "blake3":
			digests[algo] = Blake3Hex(data)
			continue
		default:
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		h.Write(data)
		digests[algo] = hex.EncodeToString(h.Sum(nil))
	}

	return digests
}
