package fuzzy

import "github.com/glaslos/tlsh"

// TLSHHasher computes trend-locality-sensitive hashes, useful for
// clustering near-duplicate submissions. TLSH needs a minimum payload
// size and byte variety; inputs below that yield an error and the
// caller omits the hash.
type TLSHHasher struct{}

func (h TLSHHasher) Name() string {
	return "tlsh"
}

func (h TLSHHasher) HashBytes(data []byte) (string, error) {
	hash, err := tlsh.HashBytes(data)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func init() {
	Register(TLSHHasher{})
}
