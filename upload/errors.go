package upload

import (
	"errors"
	"fmt"

	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
)

// ErrCancelled is returned when the user cancelled the upload. It is not a failure:
// a cancelled chunked upload stays resumable.
var ErrCancelled = chunkuploader.ErrCancelled

// ErrNoSession is returned by Finalize when no persisted session exists for the file.
var ErrNoSession = errors.New("no resumable upload session for this file")

// ErrNotUploaded is returned when metadata is submitted before any upload finished.
var ErrNotUploaded = errors.New("please upload a file first")

// ChunkExhaustedError is returned when a chunk failed on every attempt.
type ChunkExhaustedError = chunkuploader.ChunkExhaustedError

// ValidationError is a rejected input. Retrying it doesn't help.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// SessionReconciliationError means the persisted session and the backend's view of it
// couldn't be matched. The upload continues with a new session.
type SessionReconciliationError struct {
	UploadID string
	Err      error
}

func (e *SessionReconciliationError) Error() string {
	return fmt.Sprintf("reconcile upload session %s: %s", e.UploadID, e.Err)
}

func (e *SessionReconciliationError) Unwrap() error {
	return e.Err
}

// FinalizeError means every chunk is uploaded but completing the session failed.
// The session is kept so finalize can be retried without sending chunks again.
type FinalizeError struct {
	UploadID string
	Err      error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize upload session %s: %s", e.UploadID, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}
