// Package ingest admits uploaded payloads into the pipeline. Admission
// checks size only: malformed or non-PE content is accepted and left
// to the extractor, which degrades instead of rejecting, because
// real-world submissions are routinely packed or corrupted.
package ingest

import (
	"errors"

	"github.com/h2non/filetype"

	"pescan/hasher"
)

var (
	// ErrEmpty rejects zero-byte payloads.
	ErrEmpty = errors.New("empty payload")
	// ErrTooLarge rejects payloads over the configured admission cap.
	ErrTooLarge = errors.New("payload exceeds maximum upload size")
)

// BinaryInput is an admitted payload. It is owned by exactly one
// in-flight request and discarded when extraction completes or fails.
type BinaryInput struct {
	Data         []byte
	DeclaredName string
	Size         int64
	Digest       string // BLAKE3, hex
	SniffedType  string // best-effort MIME, diagnostic only
}

// Ingest validates and wraps an uploaded payload. maxBytes <= 0
// disables the size cap.
func Ingest(data []byte, declaredName string, maxBytes int64) (*BinaryInput, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}

	return &BinaryInput{
		Data:         data,
		DeclaredName: declaredName,
		Size:         int64(len(data)),
		Digest:       hasher.Blake3Hex(data),
		SniffedType:  sniffType(data),
	}, nil
}

func sniffType(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "unknown"
	}
	return kind.MIME.Value
}
