// Package progress turns confirmed upload offsets into percent, speed and ETA.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-units"
)

// MinSampleInterval is the minimum time between two speed samples.
const MinSampleInterval = 500 * time.Millisecond

// Snapshot is the derived progress state shown to the user.
type Snapshot struct {
	UploadedBytes int64
	TotalBytes    int64
	Percent       float64
	// SpeedBps is the throughput between the last two samples, in bytes per second.
	SpeedBps float64
	// ETA is only meaningful when ETAKnown is set.
	ETA      time.Duration
	ETAKnown bool
	Retries  int
}

// Speed returns the formatted speed.
func (s Snapshot) Speed() string {
	return FormatSpeed(s.SpeedBps)
}

// Remaining returns the formatted ETA, or an empty string while it is unknown.
func (s Snapshot) Remaining() string {
	if !s.ETAKnown {
		return ""
	}
	return FormatETA(s.ETA)
}

// Reporter aggregates confirmed bytes of one upload attempt. It is safe for concurrent use.
type Reporter struct {
	mu    sync.Mutex
	now   func() time.Time
	total int64

	uploaded int64
	retries  int

	sampleAt    time.Time
	sampleBytes int64
	speed       float64
}

// NewReporter creates a Reporter for an upload of total bytes, of which alreadyUploaded
// were confirmed by an earlier attempt.
func NewReporter(total, alreadyUploaded int64) *Reporter {
	return newReporterWithClock(total, alreadyUploaded, time.Now)
}

func newReporterWithClock(total, alreadyUploaded int64, now func() time.Time) *Reporter {
	return &Reporter{
		now:         now,
		total:       total,
		uploaded:    alreadyUploaded,
		sampleAt:    now(),
		sampleBytes: alreadyUploaded,
	}
}

// Confirm records that every byte before end is uploaded. Uploaded bytes never decrease,
// so a chunk confirmed out of order can't move progress backwards.
// It reports whether a new speed sample was taken.
func (r *Reporter) Confirm(end int64) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if end > r.total {
		end = r.total
	}
	if end > r.uploaded {
		r.uploaded = end
	}

	sampled := false
	now := r.now()
	if elapsed := now.Sub(r.sampleAt); elapsed >= MinSampleInterval {
		r.speed = float64(r.uploaded-r.sampleBytes) / elapsed.Seconds()
		r.sampleAt = now
		r.sampleBytes = r.uploaded
		sampled = true
	}

	return r.snapshot(), sampled
}

// AddRetry counts one retried request.
func (r *Reporter) AddRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// Snapshot returns the current progress.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Reporter) snapshot() Snapshot {
	s := Snapshot{
		UploadedBytes: r.uploaded,
		TotalBytes:    r.total,
		SpeedBps:      r.speed,
		Retries:       r.retries,
	}
	if r.total > 0 {
		s.Percent = float64(r.uploaded) / float64(r.total) * 100
	}
	if r.speed > 0 {
		s.ETA = time.Duration(float64(r.total-r.uploaded) / r.speed * float64(time.Second))
		s.ETAKnown = true
	}
	return s
}

// FormatSpeed formats bytes per second as MB/s, e.g. "12.34 MB/s".
func FormatSpeed(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return fmt.Sprintf("%.2f MB/s", bps/float64(units.MB))
}

// FormatETA formats a duration as "42s" below a minute and "3m 07s" above.
func FormatETA(d time.Duration) string {
	seconds := int64(d.Round(time.Second) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %02ds", seconds/60, seconds%60)
}
