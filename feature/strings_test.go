package feature

import "testing"

func TestFillStringsCountsAndMarkers(t *testing.T) {
	data := []byte("MZ\x00hello\x00ab\x00http://example.com\x00C:\\temp\x00HKEY_LOCAL_MACHINE")
	dst := make([]float32, 104)
	fillStrings(dst, data)

	// Runs of at least five printable bytes: "hello" (5),
	// "http://example.com" (18), "C:\temp" (7), "HKEY_LOCAL_MACHINE" (18).
	if dst[0] != 4 {
		t.Fatalf("string count %v, expected 4", dst[0])
	}
	if dst[1] != 12 {
		t.Fatalf("mean string length %v, expected 12", dst[1])
	}
	if dst[98] != 48 {
		t.Fatalf("printable count %v, expected 48", dst[98])
	}
	if dst[99] <= 0 {
		t.Fatalf("character entropy %v, expected positive", dst[99])
	}

	markers := map[string]float32{
		"paths":    dst[100],
		"urls":     dst[101],
		"registry": dst[102],
		"mz":       dst[103],
	}
	for name, count := range markers {
		if count != 1 {
			t.Fatalf("marker %s count %v, expected 1", name, count)
		}
	}
}

func TestFillStringsNoPrintableRuns(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x41, 0x42, 0x00, 0xff, 0xfe}
	dst := make([]float32, 104)
	fillStrings(dst, data)
	for i, val := range dst {
		if val != 0 {
			t.Fatalf("index %d expected zero, got %v", i, val)
		}
	}
}

func TestCountMarkersRepeats(t *testing.T) {
	data := []byte("https://a https://b HTTP://C padding padding")
	counts := countMarkers(data)
	if counts["urls"] != 3 {
		t.Fatalf("url count %d, expected 3", counts["urls"])
	}
	if counts["registry"] != 0 {
		t.Fatalf("registry count %d, expected 0", counts["registry"])
	}
}
