package upload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

type uploadTracker struct {
	tracker analytics.Tracker
}

func newUploadTracker(tracker analytics.Tracker) uploadTracker {
	return uploadTracker{tracker: tracker}
}

func (t uploadTracker) logStarted(strategy Strategy, size int64, resumed bool) {
	t.tracker.Enqueue("svl_upload_started", analytics.Properties{
		"strategy":   string(strategy),
		"size_bytes": size,
		"resumed":    resumed,
	})
}

func (t uploadTracker) logChunksUploaded(uploadTime time.Duration, chunkCount, retries int) {
	t.tracker.Enqueue("svl_upload_chunks_uploaded", analytics.Properties{
		"upload_time_s": uploadTime.Truncate(time.Second).Seconds(),
		"chunk_count":   chunkCount,
		"retry_count":   retries,
	})
}

func (t uploadTracker) logFinished(strategy Strategy, uploadTime time.Duration, size int64) {
	t.tracker.Enqueue("svl_upload_finished", analytics.Properties{
		"strategy":          string(strategy),
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": size,
	})
}

func (t uploadTracker) logStopped(state State, err error) {
	properties := analytics.Properties{"state": string(state)}
	if err != nil {
		properties["error"] = err.Error()
	}
	t.tracker.Enqueue("svl_upload_stopped", properties)
}
