package batch

import (
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

var openMmapReader = mmap.Open

// readFileContent loads a file for classification. Files at or above
// mmapMinSize are read through a memory map, smaller ones through a plain
// buffered read. Files larger than maxSize return (nil, nil) so callers
// can record a skip instead of an error.
func readFileContent(path string, maxSize, mmapMinSize int64) ([]byte, error) {
	if mmapMinSize <= 0 {
		mmapMinSize = 128 * 1024
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, nil
	}
	if info.Size() >= mmapMinSize {
		content, err := readContentMmap(path, info.Size())
		if err == nil {
			return content, nil
		}
	}
	return readContentStream(path, maxSize)
}

func readContentMmap(path string, size int64) ([]byte, error) {
	r, err := openMmapReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if size <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func readContentStream(path string, maxSize int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var reader io.Reader = file
	if maxSize > 0 {
		reader = io.LimitReader(file, maxSize+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && int64(len(content)) > maxSize {
		return nil, nil
	}
	return content, nil
}
