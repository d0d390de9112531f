package feature

import (
	"github.com/cespare/xxhash/v2"
)

// Hashed-bucket groups use the feature-hashing trick: a key is mapped
// to a bucket by xxhash64 and the value is added with a hash-derived
// sign. Extraction cost and vector size stay independent of how many
// distinct keys (imports, exports, section names) a file carries.

func bucketAdd(dst []float32, key string, value float32) {
	if len(dst) == 0 {
		return
	}
	h := xxhash.Sum64String(key)
	idx := int(h % uint64(len(dst)))
	if h&(1<<63) != 0 {
		value = -value
	}
	dst[idx] += value
}
