package chunkuploader

import (
	"math"
	"sync"
	"time"
)

// Sizer adjusts the chunk size so that a chunk takes roughly the target duration to send.
// It is a direct proportional correction over a moving average, nothing more.
type Sizer struct {
	config  SizingConfig
	current int64
	samples []float64
	mu      sync.Mutex
}

// NewSizer creates a Sizer starting from the given chunk size.
func NewSizer(config SizingConfig, initial int64) *Sizer {
	return &Sizer{
		config:  config,
		current: initial,
	}
}

// Current returns the chunk size the next chunk should be carved with.
func (s *Sizer) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Observe records the transfer of a chunk and returns the chunk size to use from now on.
// The second return value reports whether the size changed.
func (s *Sizer) Observe(bytes int64, elapsed time.Duration) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled || bytes <= 0 {
		return s.current, false
	}

	msPerMB := float64(elapsed) / float64(time.Millisecond) / (float64(bytes) / megabyte)
	s.samples = append(s.samples, msPerMB)
	if len(s.samples) > s.config.Window {
		s.samples = s.samples[len(s.samples)-s.config.Window:]
	}

	desired := s.desiredLocked()
	if s.current > 0 {
		change := math.Abs(float64(desired-s.current)) / float64(s.current)
		if change <= s.config.Threshold {
			return s.current, false
		}
	}

	s.current = desired
	return s.current, true
}

func (s *Sizer) desiredLocked() int64 {
	var sum float64
	for _, sample := range s.samples {
		sum += sample
	}
	mean := sum / float64(len(s.samples))

	if mean <= 0 {
		return s.config.MaxChunkSize
	}

	targetMs := float64(s.config.Target) / float64(time.Millisecond)
	desiredBytes := targetMs / mean * megabyte

	return clampChunkSize(desiredBytes, s.config.MinChunkSize, s.config.MaxChunkSize)
}

func clampChunkSize(size float64, min, max int64) int64 {
	if math.IsNaN(size) || size < float64(min) {
		return min
	}
	if size > float64(max) {
		return max
	}
	return int64(size)
}
