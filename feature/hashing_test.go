package feature

import (
	"math"
	"testing"
)

func TestBucketAddIsDeterministic(t *testing.T) {
	first := make([]float32, 32)
	second := make([]float32, 32)
	bucketAdd(first, "kernel32.dll", 1)
	bucketAdd(second, "kernel32.dll", 1)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("bucket %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestBucketAddSingleBucket(t *testing.T) {
	dst := make([]float32, 16)
	bucketAdd(dst, "some-key", 2)

	hits := 0
	for _, val := range dst {
		if val != 0 {
			hits++
			if math.Abs(float64(val)) != 2 {
				t.Fatalf("bucket magnitude %v, expected 2", val)
			}
		}
	}
	if hits != 1 {
		t.Fatalf("key landed in %d buckets, expected 1", hits)
	}

	// Repeated keys accumulate in place.
	bucketAdd(dst, "some-key", 2)
	var total float64
	for _, val := range dst {
		total += math.Abs(float64(val))
	}
	if total != 4 {
		t.Fatalf("accumulated magnitude %v, expected 4", total)
	}
}

func TestBucketAddEmptyDst(t *testing.T) {
	// Must not panic on a zero-length destination.
	bucketAdd(nil, "key", 1)
}
