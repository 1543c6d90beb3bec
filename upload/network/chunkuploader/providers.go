package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// FileSource reads chunks from a file on disk.
// Safe for parallel chunk reads, every read goes through ReadAt.
type FileSource struct {
	file *os.File
	size int64
}

// NewFileSource opens the file at path for chunked reading.
func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{
		file: file,
		size: info.Size(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the size of the file at the time it was opened.
func (s *FileSource) Size() int64 {
	return s.size
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// readChunk loads the byte range of a chunk into memory, so retries resend the same bytes.
func readChunk(src Source, offset, size int64) ([]byte, error) {
	if offset < 0 || size <= 0 || offset+size > src.Size() {
		return nil, fmt.Errorf("range [%d, %d) out of bounds for size %d", offset, offset+size, src.Size())
	}

	data := make([]byte, size)
	n, err := io.ReadFull(io.NewSectionReader(src, offset, size), data)
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at offset %d (got %d): %w", size, offset, n, err)
	}

	return data, nil
}
