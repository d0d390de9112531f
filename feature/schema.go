package feature

// The feature layout is a deployment contract shared with the scoring
// artifact: index-to-meaning is fixed per schema version, and any
// change to group order, size, or hashing requires a version bump.

const (
	// SchemaVersion tags every produced vector and must match the
	// version the scoring artifact was trained against.
	SchemaVersion = 3

	// Dim is the total number of feature values per vector.
	Dim = 2568

	// MinInputSize is the smallest input the extractor accepts: one
	// complete DOS header. Shorter inputs fail with ErrUnreadable.
	MinInputSize = 64
)

type group struct {
	name   string
	offset int
	size   int
}

// Groups are laid out contiguously; offsets are derived from the
// declared sizes so the table cannot drift out of sync with Dim.
var groups = buildGroups([]group{
	{name: "general", size: 10},
	{name: "header", size: 62},
	{name: "bytehist", size: 256},
	{name: "byteentropy", size: 256},
	{name: "strings", size: 104},
	{name: "sections", size: 255},
	{name: "imports", size: 1280},
	{name: "exports", size: 128},
	{name: "datadirs", size: 30},
	{name: "richheader", size: 64},
	{name: "overlay", size: 9},
	{name: "resources", size: 50},
	{name: "dotnet", size: 64},
})

func buildGroups(defs []group) []group {
	offset := 0
	for i := range defs {
		defs[i].offset = offset
		offset += defs[i].size
	}
	if offset != Dim {
		panic("feature: group sizes do not sum to Dim")
	}
	return defs
}

// GroupRange reports the index range a named group occupies.
func GroupRange(name string) (offset, size int, ok bool) {
	for _, g := range groups {
		if g.name == name {
			return g.offset, g.size, true
		}
	}
	return 0, 0, false
}

// GroupNames lists the schema groups in vector order.
func GroupNames() []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.name
	}
	return names
}

// Vector is an immutable fixed-length feature vector tagged with the
// schema version it was produced under.
type Vector struct {
	Values  []float32
	Version int
}

func newVector() *Vector {
	return &Vector{
		Values:  make([]float32, Dim),
		Version: SchemaVersion,
	}
}

// Len returns the number of feature values.
func (v *Vector) Len() int {
	return len(v.Values)
}

// Group returns the sub-slice backing a named group. The slice aliases
// the vector and is only written during extraction.
func (v *Vector) Group(name string) []float32 {
	offset, size, ok := GroupRange(name)
	if !ok {
		return nil
	}
	return v.Values[offset : offset+size]
}

// Float64s converts the vector for consumers that score in float64.
func (v *Vector) Float64s() []float64 {
	out := make([]float64, len(v.Values))
	for i, val := range v.Values {
		out[i] = float64(val)
	}
	return out
}
