package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

// Uploader runs the chunk phase of one upload session with bounded parallelism,
// per chunk retries and adaptive chunk sizing. An Uploader drives a single Upload call;
// Pause, Resume and Cancel control that call from other goroutines.
type Uploader struct {
	config  Config
	sender  Sender
	logger  log.Logger
	stats   *Stats
	retrier retrier

	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	aborted   bool
	cancelled bool
}

// New creates a new Uploader sending chunks through sender.
func New(config Config, sender Sender, logger log.Logger) *Uploader {
	config = config.withDefaults()

	u := &Uploader{
		config:  config,
		sender:  sender,
		logger:  logger,
		stats:   NewStats(),
		retrier: newRetrier(config),
	}
	u.cond = sync.NewCond(&u.mu)

	return u
}

// run is the cursor state shared by the worker loops, guarded by Uploader.mu.
type run struct {
	plan  Plan
	sizer *Sizer

	next   int
	offset int64

	confirmed    map[int]int64
	prefixIndex  int
	prefixOffset int64
}

// Upload sends every chunk of src from plan.StartOffset on and returns once all of them
// are acknowledged. On a chunk that fails on every attempt no new chunks are claimed,
// in-flight chunks drain and a *ChunkExhaustedError is returned.
func (u *Uploader) Upload(ctx context.Context, src Source, plan Plan, observer Observer) (*Result, error) {
	if err := validatePlan(src, plan); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}

	r := &run{
		plan:         plan,
		sizer:        NewSizer(u.config.Sizing, plan.ChunkSize),
		next:         plan.StartIndex,
		offset:       plan.StartOffset,
		confirmed:    map[int]int64{},
		prefixIndex:  plan.StartIndex,
		prefixOffset: plan.StartOffset,
	}

	if plan.StartOffset == plan.FileSize {
		u.logger.Debugf("Nothing left to upload for session %s", plan.UploadID)
		return &Result{TotalChunks: plan.StartIndex, ChunkSize: plan.ChunkSize}, nil
	}

	u.logger.Debugf("Uploading %s from chunk %d with %d workers, chunk size %s",
		units.BytesSize(float64(plan.FileSize-plan.StartOffset)), plan.StartIndex,
		u.config.Concurrency, units.BytesSize(float64(plan.ChunkSize)))

	// Wake up paused workers when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		u.mu.Lock()
		u.cond.Broadcast()
		u.mu.Unlock()
	})
	defer stop()

	var g errgroup.Group
	for w := 0; w < u.config.Concurrency; w++ {
		g.Go(func() error {
			return u.work(ctx, src, r, observer)
		})
	}
	err := g.Wait()

	u.mu.Lock()
	cancelled := u.cancelled
	u.mu.Unlock()

	switch {
	case cancelled:
		return nil, ErrCancelled
	case ctx.Err() != nil:
		return nil, fmt.Errorf("upload interrupted: %w", ctx.Err())
	case err != nil:
		return nil, err
	}

	return &Result{TotalChunks: r.next, ChunkSize: r.sizer.Current()}, nil
}

// Pause stops claiming new chunks. Chunks already in flight still complete.
func (u *Uploader) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paused = true
}

// Resume continues claiming chunks after Pause.
func (u *Uploader) Resume() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paused = false
	u.cond.Broadcast()
}

// Paused reports whether claiming is paused.
func (u *Uploader) Paused() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.paused
}

// Cancel stops claiming new chunks for good; Upload returns ErrCancelled.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled = true
	u.aborted = true
	u.cond.Broadcast()
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

func (u *Uploader) work(ctx context.Context, src Source, r *run, observer Observer) error {
	for {
		chunk, ok, err := u.claim(ctx, r)
		if err != nil || !ok {
			return err
		}

		if err := u.send(ctx, src, r, chunk, observer); err != nil {
			return err
		}
	}
}

// claim hands out the next chunk, or ok=false once the file is fully claimed or the upload is aborted.
func (u *Uploader) claim(ctx context.Context, r *run) (Chunk, bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	// Once the whole file is claimed a pause has nothing left to hold back.
	for u.paused && !u.aborted && ctx.Err() == nil && r.offset < r.plan.FileSize {
		u.cond.Wait()
	}

	if u.cancelled {
		return Chunk{}, false, ErrCancelled
	}
	if u.aborted {
		return Chunk{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, false, err
	}
	if r.offset >= r.plan.FileSize {
		return Chunk{}, false, nil
	}

	size := r.sizer.Current()
	if remaining := r.plan.FileSize - r.offset; size > remaining {
		size = remaining
	}

	chunk := Chunk{Index: r.next, Offset: r.offset, Size: size}
	r.next++
	r.offset += size

	return chunk, true, nil
}

func (u *Uploader) send(ctx context.Context, src Source, r *run, chunk Chunk, observer Observer) error {
	data, err := readChunk(src, chunk.Offset, chunk.Size)
	if err != nil {
		u.abort()
		return fmt.Errorf("read chunk %d: %w", chunk.Index, err)
	}
	chunk.Data = data
	chunk.SHA256 = u.config.Hash(data)

	u.logger.Debugf("Uploading chunk %d [%d-%d) [finished=%d] [avg=%v]",
		chunk.Index, chunk.Offset, chunk.End(), u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

	attempts, took, err := u.retrier.do(ctx,
		func(ctx context.Context) error {
			return u.sender.SendChunk(ctx, r.plan.UploadID, chunk)
		},
		func(attempt int, err error) {
			u.stats.AddRetry()
			u.logger.Warnf("Chunk %d attempt %d/%d failed: %v", chunk.Index, attempt, u.config.MaxRetries+1, err)

			u.mu.Lock()
			defer u.mu.Unlock()
			observer.ChunkRetried(chunk.Index, attempt, err)
		},
	)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		u.abort()
		return &ChunkExhaustedError{Index: chunk.Index, Attempts: attempts, Err: err}
	}

	u.stats.Update(took)
	u.logger.Debugf("Chunk %d uploaded in %v (attempt %d)", chunk.Index, took.Round(time.Millisecond), attempts)
	u.confirm(r, chunk, took, observer)

	return nil
}

func (u *Uploader) confirm(r *run, chunk Chunk, took time.Duration, observer Observer) {
	u.mu.Lock()
	defer u.mu.Unlock()

	r.confirmed[chunk.Index] = chunk.End()
	for {
		end, ok := r.confirmed[r.prefixIndex]
		if !ok {
			break
		}
		delete(r.confirmed, r.prefixIndex)
		r.prefixIndex++
		r.prefixOffset = end
	}

	previous := r.sizer.Current()
	if size, changed := r.sizer.Observe(chunk.Size, took); changed {
		u.logger.Debugf("Chunk size adjusted from %s to %s", units.BytesSize(float64(previous)), units.BytesSize(float64(size)))
	}

	observer.ChunkConfirmed(Confirmation{
		Index:      chunk.Index,
		Offset:     chunk.Offset,
		Size:       chunk.Size,
		NextIndex:  r.prefixIndex,
		NextOffset: r.prefixOffset,
		ChunkSize:  r.sizer.Current(),
	})
}

func (u *Uploader) abort() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.aborted = true
	u.cond.Broadcast()
}

func validatePlan(src Source, plan Plan) error {
	switch {
	case plan.UploadID == "":
		return fmt.Errorf("upload ID must not be empty")
	case plan.FileSize <= 0:
		return fmt.Errorf("file size must be positive, got %d", plan.FileSize)
	case src.Size() != plan.FileSize:
		return fmt.Errorf("source size %d doesn't match the session file size %d", src.Size(), plan.FileSize)
	case plan.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", plan.ChunkSize)
	case plan.StartIndex < 0 || plan.StartOffset < 0 || plan.StartOffset > plan.FileSize:
		return fmt.Errorf("invalid start position: chunk %d, offset %d", plan.StartIndex, plan.StartOffset)
	}
	return nil
}
