package feature

import (
	"math"
	"testing"
)

func TestByteHistogramSingleValue(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = 0xAB
	}
	dst := make([]float32, 256)
	fillByteHistogram(dst, data)
	for i, val := range dst {
		if i == 0xAB {
			if val != 1 {
				t.Fatalf("expected full mass at 0xAB, got %v", val)
			}
			continue
		}
		if val != 0 {
			t.Fatalf("unexpected mass at byte %#x: %v", i, val)
		}
	}
}

func TestByteHistogramNormalized(t *testing.T) {
	dst := make([]float32, 256)
	fillByteHistogram(dst, pseudoBytes(10000, 3))
	var sum float64
	for _, val := range dst {
		sum += float64(val)
	}
	if math.Abs(sum-1) > 1e-3 {
		t.Fatalf("histogram sum %v, expected 1", sum)
	}
}

func TestByteEntropyHistogramZeroData(t *testing.T) {
	dst := make([]float32, 256)
	fillByteEntropyHistogram(dst, make([]byte, 4096))
	// Constant data has zero window entropy and every byte in the low
	// nibble bin, so all mass lands in cell (0,0).
	if dst[0] != 1 {
		t.Fatalf("expected full mass in cell 0, got %v", dst[0])
	}
	for i := 1; i < len(dst); i++ {
		if dst[i] != 0 {
			t.Fatalf("unexpected mass in cell %d: %v", i, dst[i])
		}
	}
}

func TestByteEntropyHistogramNormalized(t *testing.T) {
	dst := make([]float32, 256)
	fillByteEntropyHistogram(dst, pseudoBytes(16384, 11))
	var sum float64
	for _, val := range dst {
		sum += float64(val)
	}
	if math.Abs(sum-1) > 1e-3 {
		t.Fatalf("entropy histogram sum %v, expected 1", sum)
	}
}

func TestShannonEntropyBounds(t *testing.T) {
	if e := shannonEntropy(make([]byte, 100)); e != 0 {
		t.Fatalf("constant data entropy %v, expected 0", e)
	}
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	if e := shannonEntropy(uniform); math.Abs(e-8) > 1e-9 {
		t.Fatalf("uniform data entropy %v, expected 8", e)
	}
	if e := shannonEntropy(nil); e != 0 {
		t.Fatalf("empty data entropy %v, expected 0", e)
	}
}
