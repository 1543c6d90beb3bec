package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"

	"github.com/rpc-svl/svl-upload/upload/network"
)

const prefetchTimeout = 8 * time.Second

type finalizer struct {
	api      network.API
	attempts uint
	wait     time.Duration
	logger   log.Logger
}

// complete finalizes the session, retrying transient failures a few times.
// The returned content ID is validated before the caller forgets the session.
func (f finalizer) complete(ctx context.Context, session Session, filename string) (network.CompleteResponse, error) {
	request := network.CompleteRequest{
		UploadID:    session.UploadID,
		Filename:    filename,
		TotalChunks: session.TotalChunks,
	}

	retries := uint(0)
	if f.attempts > 1 {
		retries = f.attempts - 1
	}

	var response network.CompleteResponse
	err := retry.Times(retries).Wait(f.wait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			f.logger.Warnf("Retrying finalize of session %s (attempt %d)", session.UploadID, attempt+1)
		}

		var err error
		response, err = f.api.CompleteUpload(ctx, request)
		if err != nil {
			abort := ctx.Err() != nil || !network.IsTransient(err)
			return err, abort
		}
		return nil, false
	})
	if err != nil {
		if ctx.Err() != nil {
			return network.CompleteResponse{}, ctx.Err()
		}
		return network.CompleteResponse{}, &FinalizeError{UploadID: session.UploadID, Err: err}
	}

	if err := validateContentID(response); err != nil {
		return network.CompleteResponse{}, &FinalizeError{UploadID: session.UploadID, Err: err}
	}
	return response, nil
}

func validateContentID(response network.CompleteResponse) error {
	if response.ContentID() == "" {
		return errors.New("completion response has no content identifier")
	}
	if response.UUID != "" {
		if _, err := uuid.Parse(response.UUID); err != nil {
			return fmt.Errorf("completion response has an invalid uuid %q: %w", response.UUID, err)
		}
	}
	return nil
}

// prefetch loads the metadata of an already known video so the form can be pre-filled.
// A missing record is the common case and isn't an error.
func (f finalizer) prefetch(ctx context.Context, videoID string) *network.Metadata {
	ctx, cancel := context.WithTimeout(ctx, prefetchTimeout)
	defer cancel()

	metadata, err := f.api.FetchMetadata(ctx, videoID)
	if err != nil {
		if !errors.Is(err, network.ErrNotFound) {
			f.logger.Debugf("Metadata prefetch of %s failed: %s", videoID, err)
		}
		return nil
	}
	return &metadata
}
