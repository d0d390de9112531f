// Package feature maps a binary to the fixed 2,568-value vector the
// scoring artifact was trained against. Extraction is a pure function
// of the input bytes: the same input always yields a bit-identical
// vector, and structurally invalid input degrades to zero sentinels
// instead of failing.
package feature

import "errors"

// ErrUnreadable is returned for inputs too small to contain even a
// DOS header skeleton. Everything larger extracts with sentinels.
var ErrUnreadable = errors.New("input too small to extract features from")

// Extract produces the schema-v3 feature vector for data. The raw
// byte-stream groups (histograms and strings) are always computed;
// PE-structural groups zero-fill when the image cannot be parsed.
func Extract(data []byte) (*Vector, error) {
	if len(data) < MinInputSize {
		return nil, ErrUnreadable
	}

	v := newVector()

	fillByteHistogram(v.Group("bytehist"), data)
	fillByteEntropyHistogram(v.Group("byteentropy"), data)
	fillStrings(v.Group("strings"), data)

	p := parsePE(data)
	fillGeneral(v.Group("general"), p, len(data))
	fillHeader(v.Group("header"), p)
	fillSections(v.Group("sections"), p)
	fillImports(v.Group("imports"), p)
	fillExports(v.Group("exports"), p)
	fillDataDirectories(v.Group("datadirs"), p)
	fillRichHeader(v.Group("richheader"), p)
	fillOverlay(v.Group("overlay"), p, len(data))
	fillResources(v.Group("resources"), p)
	fillDotnet(v.Group("dotnet"), p)

	return v, nil
}
