package feature

import (
	"bytes"
	"math"

	"github.com/cloudflare/ahocorasick"
)

const minStringLength = 5

// stringMarkers groups the byte patterns behind one string feature.
// Counting is two-phase in the prefilter style: a shared Aho-Corasick
// pass reports which patterns occur at all, and only those are counted
// exactly afterwards.
var stringMarkers = []struct {
	feature  string
	patterns [][]byte
}{
	{feature: "paths", patterns: [][]byte{[]byte(`c:\`), []byte(`C:\`)}},
	{feature: "urls", patterns: [][]byte{[]byte("http://"), []byte("https://"), []byte("HTTP://"), []byte("HTTPS://")}},
	{feature: "registry", patterns: [][]byte{[]byte("HKEY_")}},
	{feature: "mz", patterns: [][]byte{[]byte("MZ")}},
}

var markerMatcher = buildMarkerMatcher()

func buildMarkerMatcher() *ahocorasick.Matcher {
	var flat [][]byte
	for _, marker := range stringMarkers {
		flat = append(flat, marker.patterns...)
	}
	return ahocorasick.NewMatcher(flat)
}

// fillStrings writes printable-string statistics into dst (len 104):
// [0] string count, [1] mean length, [2:98] printable character
// distribution, [98] total printable characters, [99] character
// distribution entropy, [100] path marker count, [101] URL marker
// count, [102] registry marker count, [103] MZ marker count.
// Character statistics cover only runs of at least minStringLength
// printable bytes so short binary noise does not skew them.
func fillStrings(dst []float32, data []byte) {
	var (
		numStrings  int64
		totalLength int64
		charCounts  [96]int64
	)

	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		if length := end - runStart; length >= minStringLength {
			numStrings++
			totalLength += int64(length)
			for _, b := range data[runStart:end] {
				charCounts[b-0x20]++
			}
		}
		runStart = -1
	}
	for i, b := range data {
		if b >= 0x20 && b < 0x7f {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))

	var printables int64
	for _, c := range charCounts {
		printables += c
	}

	dst[0] = float32(numStrings)
	if numStrings > 0 {
		dst[1] = float32(float64(totalLength) / float64(numStrings))
	}
	dst[98] = float32(printables)
	if printables > 0 {
		entropy := 0.0
		for i, c := range charCounts {
			p := float64(c) / float64(printables)
			dst[2+i] = float32(p)
			if c > 0 {
				entropy -= p * math.Log2(p)
			}
		}
		dst[99] = float32(entropy)
	}

	counts := countMarkers(data)
	dst[100] = float32(counts["paths"])
	dst[101] = float32(counts["urls"])
	dst[102] = float32(counts["registry"])
	dst[103] = float32(counts["mz"])
}

func countMarkers(data []byte) map[string]int64 {
	counts := make(map[string]int64, len(stringMarkers))
	matched := markerMatcher.MatchThreadSafe(data)
	if len(matched) == 0 {
		return counts
	}

	present := make(map[int]bool, len(matched))
	for _, idx := range matched {
		present[idx] = true
	}

	flatIdx := 0
	for _, marker := range stringMarkers {
		for _, pattern := range marker.patterns {
			if present[flatIdx] {
				counts[marker.feature] += int64(bytes.Count(data, pattern))
			}
			flatIdx++
		}
	}
	return counts
}
