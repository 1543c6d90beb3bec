// Package chunkuploader drives the chunk phase of a resumable upload session.
// It runs a fixed number of worker loops over a shared chunk cursor, retries every chunk
// with exponential backoff and adapts the chunk size to the observed throughput.
package chunkuploader

import (
	"context"
	"io"
)

// Chunk is a contiguous byte range of the uploaded file sent as one request.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64
	SHA256 string
	Data   []byte
}

// End returns the offset right after the last byte of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Size
}

// Sender delivers a single chunk of an upload session to the backend.
// A nil error means the backend acknowledged the chunk.
type Sender interface {
	SendChunk(ctx context.Context, uploadID string, chunk Chunk) error
}

// Source provides random access to the content being uploaded.
// *os.File wrapped by FileSource and *bytes.Reader both satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Plan describes the remaining part of a session the uploader has to drive.
type Plan struct {
	UploadID string
	FileSize int64
	// ChunkSize is the session chunk size the first claimed chunk is carved with.
	ChunkSize int64
	// StartIndex and StartOffset point at the first chunk the backend hasn't received.
	StartIndex  int
	StartOffset int64
}

// Confirmation is reported after the backend acknowledged a chunk.
type Confirmation struct {
	Index  int
	Offset int64
	Size   int64
	// NextIndex and NextOffset describe the contiguous confirmed prefix:
	// every chunk below NextIndex is acknowledged.
	NextIndex  int
	NextOffset int64
	// ChunkSize is the size the next claimed chunk will be carved with.
	ChunkSize int64
}

// End returns the offset right after the confirmed chunk.
func (c Confirmation) End() int64 {
	return c.Offset + c.Size
}

// Observer receives uploader events. Calls are serialized under the uploader's lock,
// so an Observer must not call back into the Uploader.
type Observer interface {
	ChunkConfirmed(c Confirmation)
	ChunkRetried(index, attempt int, err error)
}

// Result represents the outcome of a completed chunk phase.
type Result struct {
	// TotalChunks is the number of chunks the whole file was carved into.
	TotalChunks int
	ChunkSize   int64
}

type nopObserver struct{}

func (nopObserver) ChunkConfirmed(Confirmation)    {}
func (nopObserver) ChunkRetried(int, int, error) {}
