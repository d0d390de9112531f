package fuzzy

import "testing"

func varied(n int) []byte {
	data := make([]byte, n)
	state := uint64(0x9e3779b97f4a7c15)
	for i := range data {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		data[i] = byte(state)
	}
	return data
}

func TestLookupTLSH(t *testing.T) {
	hasher, ok := Lookup("tlsh")
	if !ok {
		t.Fatal("tlsh not registered")
	}
	if hasher.Name() != "tlsh" {
		t.Fatalf("unexpected name %q", hasher.Name())
	}
	if _, ok := Lookup("TLSH"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	if _, ok := Lookup("ssdeep"); ok {
		t.Fatal("unregistered hasher found")
	}
}

func TestTLSHHashBytes(t *testing.T) {
	hasher, _ := Lookup("tlsh")

	data := varied(4096)
	first, err := hasher.HashBytes(data)
	if err != nil {
		t.Fatalf("HashBytes failed: %v", err)
	}
	if first == "" {
		t.Fatal("empty hash for valid input")
	}
	second, err := hasher.HashBytes(data)
	if err != nil {
		t.Fatalf("HashBytes failed: %v", err)
	}
	if first != second {
		t.Fatal("hash should be deterministic")
	}
}

func TestTLSHRejectsTinyInput(t *testing.T) {
	hasher, _ := Lookup("tlsh")
	if _, err := hasher.HashBytes([]byte("tiny")); err == nil {
		t.Fatal("expected error for input below the TLSH minimum")
	}
}

func TestAvailable(t *testing.T) {
	names := Available()
	found := false
	for _, name := range names {
		if name == "tlsh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tlsh missing from %v", names)
	}
}

func TestHashUnknownName(t *testing.T) {
	if _, err := Hash("ssdeep", varied(4096)); err == nil {
		t.Fatal("expected error for unregistered hasher")
	}
	hash, err := Hash("tlsh", varied(4096))
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "" {
		t.Fatal("empty hash")
	}
}
