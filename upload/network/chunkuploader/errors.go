package chunkuploader

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the upload was cancelled by the user.
var ErrCancelled = errors.New("upload cancelled")

// ChunkExhaustedError is returned when a chunk failed on every attempt.
// The session stays resumable from the last confirmed chunk.
type ChunkExhaustedError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkExhaustedError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %s", e.Index, e.Attempts, e.Err)
}

func (e *ChunkExhaustedError) Unwrap() error {
	return e.Err
}
