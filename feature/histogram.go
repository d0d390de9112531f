package feature

import "math"

const (
	entropyWindowSize = 2048
	entropyWindowStep = 1024
)

// fillByteHistogram writes the normalized distribution of raw byte
// values into dst (len 256).
func fillByteHistogram(dst []float32, data []byte) {
	if len(data) == 0 {
		return
	}
	var counts [256]int64
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	for i, c := range counts {
		dst[i] = float32(float64(c) / total)
	}
}

// fillByteEntropyHistogram writes the joint (window entropy, coarse
// byte value) distribution computed over sliding windows of the raw
// byte stream into dst (len 256, 16 entropy bins x 16 byte bins).
// Packed or encrypted regions concentrate mass in high-entropy rows.
func fillByteEntropyHistogram(dst []float32, data []byte) {
	if len(data) == 0 {
		return
	}

	var acc [256]float64
	var total float64

	accumulate := func(window []byte) {
		var counts [16]float64
		for _, b := range window {
			counts[b>>4]++
		}
		n := float64(len(window))
		entropy := 0.0
		for _, c := range counts {
			if c == 0 {
				continue
			}
			p := c / n
			entropy -= p * math.Log2(p)
		}
		// Nibble-quantized entropy spans [0,4]; scale to the byte
		// range [0,8] before binning.
		entropy *= 2
		bin := int(entropy * 2)
		if bin > 15 {
			bin = 15
		}
		for i, c := range counts {
			acc[bin*16+i] += c
			total += c
		}
	}

	if len(data) < entropyWindowSize {
		accumulate(data)
	} else {
		for start := 0; start+entropyWindowSize <= len(data); start += entropyWindowStep {
			accumulate(data[start : start+entropyWindowSize])
		}
	}

	if total == 0 {
		return
	}
	for i, v := range acc {
		dst[i] = float32(v / total)
	}
}

// shannonEntropy reports the byte-level Shannon entropy of data in
// bits per byte, in [0,8].
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int64
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
