// Package upload uploads surgical videos to the video library, picking a single request
// for small files and a resumable, parallel chunked session for large ones.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/rpc-svl/svl-upload/upload/network"
	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
	"github.com/rpc-svl/svl-upload/upload/progress"
	"github.com/rpc-svl/svl-upload/upload/sessionstore"
)

// Options ...
type Options struct {
	Limits Limits
	// ChunkSize is the chunk size requested when a new session is opened.
	ChunkSize int64
	Chunks    chunkuploader.Config

	FinalizeAttempts uint
	FinalizeWait     time.Duration
}

// DefaultOptions ...
func DefaultOptions() Options {
	return Options{
		Limits: Limits{
			ChunkedThreshold: 200 * units.MiB,
			MaxFileSize:      5000 * units.MiB,
		},
		ChunkSize:        8 * units.MiB,
		Chunks:           chunkuploader.DefaultConfig(),
		FinalizeAttempts: 2,
		FinalizeWait:     2 * time.Second,
	}
}

// Listener receives the progress of an upload. Calls come from worker goroutines and
// must return quickly without calling back into the Upload.
type Listener interface {
	StateChanged(from, to State)
	Progress(snapshot progress.Snapshot)
}

type nopListener struct{}

func (nopListener) StateChanged(State, State)  {}
func (nopListener) Progress(progress.Snapshot) {}

// Result describes a finished upload.
type Result struct {
	Filename string
	// VideoID is the durable content identifier of the uploaded video.
	VideoID     string
	FileID      string
	Strategy    Strategy
	Resumed     bool
	TotalChunks int
	// Prefill holds metadata the backend already had for this video, if any.
	Prefill *network.Metadata
}

// Manager runs uploads against one backend.
type Manager struct {
	api       network.API
	sessions  sessionManager
	finalizer finalizer
	tracker   uploadTracker
	options   Options
	logger    log.Logger
}

// NewManager ...
func NewManager(api network.API, store sessionstore.Store, tracker analytics.Tracker, options Options, logger log.Logger) *Manager {
	return &Manager{
		api: api,
		sessions: sessionManager{
			api:    api,
			store:  store,
			hash:   checksumOfFile,
			logger: logger,
		},
		finalizer: finalizer{
			api:      api,
			attempts: options.FinalizeAttempts,
			wait:     options.FinalizeWait,
			logger:   logger,
		},
		tracker: newUploadTracker(tracker),
		options: options,
		logger:  logger,
	}
}

// Upload is a single upload attempt of one file. Pause, Resume and Cancel may be called
// from other goroutines while Run is in progress.
type Upload struct {
	manager  *Manager
	path     string
	listener Listener
	state    *stateMachine

	mu        sync.Mutex
	uploader  *chunkuploader.Uploader
	cancel    context.CancelFunc
	cancelled bool
}

// NewUpload prepares the upload of the file at path. A nil listener is allowed.
func (m *Manager) NewUpload(path string, listener Listener) *Upload {
	if listener == nil {
		listener = nopListener{}
	}
	return &Upload{
		manager:  m,
		path:     path,
		listener: listener,
		state:    newStateMachine(listener.StateChanged),
	}
}

// State returns the current lifecycle state.
func (u *Upload) State() State {
	return u.state.current()
}

// Pause stops sending new chunks; chunks already in flight complete.
// Only a running chunked upload can be paused.
func (u *Upload) Pause() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.uploader == nil {
		return fmt.Errorf("only a running chunked upload can be paused (state: %s)", u.state.current())
	}
	if err := u.state.transition(StatePaused); err != nil {
		return err
	}
	u.uploader.Pause()
	return nil
}

// Resume continues a paused upload.
func (u *Upload) Resume() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.uploader == nil {
		return fmt.Errorf("upload is not paused (state: %s)", u.state.current())
	}
	if err := u.state.transition(StateChunkUploading); err != nil {
		return err
	}
	u.uploader.Resume()
	return nil
}

// Cancel stops the upload. No new chunk is claimed after Cancel returns and
// requests in flight are aborted. A cancelled chunked upload stays resumable.
func (u *Upload) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cancelled = true
	if u.uploader != nil {
		u.uploader.Cancel()
	}
	if u.cancel != nil {
		u.cancel()
	}
}

// Run uploads the file and blocks until it is uploaded, failed or cancelled.
func (u *Upload) Run(ctx context.Context) (*Result, error) {
	ctx, err := u.start(ctx)
	if err != nil {
		return nil, err
	}
	defer u.stop()

	u.manager.logger.TDebugf("Upload start")
	defer func() {
		u.manager.logger.TDebugf("Upload done")
	}()

	file, err := chunkuploader.NewFileSource(u.path)
	if err != nil {
		return nil, u.fail(err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.manager.logger.Warnf("Failed to close %s: %s", u.path, err)
		}
	}()

	info := FileInfo{
		Name:        filepath.Base(u.path),
		Size:        file.Size(),
		ContentType: DetectContentType(u.path, file),
	}
	strategy, err := SelectStrategy(info, u.manager.options.Limits)
	if err != nil {
		return nil, u.fail(err)
	}
	u.manager.logger.Infof("Uploading %s (%s, %s) with the %s strategy",
		info.Name, units.HumanSizeWithPrecision(float64(info.Size), 3), info.ContentType, strategy)

	start := time.Now()
	var result *Result
	if strategy == StrategyChunked {
		result, err = u.runChunked(ctx, file, info)
	} else {
		result, err = u.runSingle(ctx, file, info)
	}
	if err != nil {
		return nil, u.fail(err)
	}

	u.manager.tracker.logFinished(strategy, time.Since(start), info.Size)
	u.manager.logger.Donef("Uploaded %s as %s", info.Name, result.VideoID)

	return result, nil
}

// Finalize completes a session whose chunks are all uploaded without sending any chunk.
// It is the way to recover from a *FinalizeError.
func (m *Manager) Finalize(ctx context.Context, path string, listener Listener) (*Result, error) {
	u := m.NewUpload(path, listener)

	ctx, err := u.start(ctx)
	if err != nil {
		return nil, err
	}
	defer u.stop()

	file, err := chunkuploader.NewFileSource(path)
	if err != nil {
		return nil, u.fail(err)
	}
	size := file.Size()
	if err := file.Close(); err != nil {
		m.logger.Warnf("Failed to close %s: %s", path, err)
	}

	filename := filepath.Base(path)
	key := sessionstore.Key(filename, size)

	stored, ok, err := m.sessions.load(key)
	if err != nil {
		return nil, u.fail(fmt.Errorf("load upload session: %w", err))
	}
	if !ok {
		return nil, u.fail(ErrNoSession)
	}

	resolved, err := m.sessions.reconcile(ctx, stored, size)
	if err != nil {
		return nil, u.fail(err)
	}
	if !resolved.complete {
		return nil, u.fail(fmt.Errorf("%d of %d chunks are uploaded, upload the file again to resume",
			resolved.session.NextChunk, resolved.session.TotalChunks))
	}

	return u.finalize(ctx, key, resolved.session, filename)
}

func (u *Upload) start(ctx context.Context) (context.Context, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.cancelled {
		return nil, ErrCancelled
	}
	if u.cancel != nil {
		return nil, errors.New("upload is already running")
	}
	ctx, u.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (u *Upload) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancel()
}

func (u *Upload) isCancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// fail moves the upload to its terminal state and returns the error to report.
func (u *Upload) fail(err error) error {
	to := StateFailed
	if u.isCancelled() || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		to = StateCancelled
		if u.isCancelled() {
			err = ErrCancelled
		}
	}

	if !u.state.current().Terminal() {
		if transitionErr := u.state.transition(to); transitionErr != nil {
			u.manager.logger.Debugf("%s", transitionErr)
		}
	}
	u.manager.tracker.logStopped(to, err)

	return err
}

func (u *Upload) runSingle(ctx context.Context, file chunkuploader.Source, info FileInfo) (*Result, error) {
	if err := u.state.transition(StateUploading); err != nil {
		return nil, err
	}
	u.manager.tracker.logStarted(StrategySingle, info.Size, false)

	reporter := progress.NewReporter(info.Size, 0)
	response, err := u.manager.api.UploadFile(ctx, network.FileUploadRequest{
		Filename:    info.Name,
		ContentType: info.ContentType,
		Source:      file,
		OnProgress: func(sent int64) {
			if snapshot, sampled := reporter.Confirm(sent); sampled {
				u.listener.Progress(snapshot)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	if err := validateContentID(response); err != nil {
		return nil, err
	}

	snapshot, _ := reporter.Confirm(info.Size)
	u.listener.Progress(snapshot)

	if err := u.state.transition(StateCompleted); err != nil {
		return nil, err
	}

	return &Result{
		Filename: info.Name,
		VideoID:  response.ContentID(),
		FileID:   response.StoredFileID(),
		Strategy: StrategySingle,
	}, nil
}

func (u *Upload) runChunked(ctx context.Context, file chunkuploader.Source, info FileInfo) (*Result, error) {
	m := u.manager
	key := sessionstore.Key(info.Name, info.Size)

	if err := u.state.transition(StateSessionResolving); err != nil {
		return nil, err
	}
	resolved, err := m.sessions.resolve(ctx, key, u.path, info.Name, info.Size, m.options.ChunkSize)
	if err != nil {
		return nil, err
	}
	m.logger.TDebugf("Upload session resolved")
	m.tracker.logStarted(StrategyChunked, info.Size, resolved.resumed)

	session := resolved.session
	if !resolved.complete {
		session, err = u.uploadChunks(ctx, file, key, resolved)
		if err != nil {
			return nil, err
		}
	}

	result, err := u.finalize(ctx, key, session, info.Name)
	if err != nil {
		return nil, err
	}
	result.Resumed = resolved.resumed
	return result, nil
}

func (u *Upload) uploadChunks(ctx context.Context, file chunkuploader.Source, key string, resolved resolvedSession) (Session, error) {
	m := u.manager
	uploader := chunkuploader.New(m.options.Chunks, m.api, m.logger)

	u.mu.Lock()
	if u.cancelled {
		u.mu.Unlock()
		return Session{}, ErrCancelled
	}
	u.uploader = uploader
	u.mu.Unlock()

	if err := u.state.transition(StateChunkUploading); err != nil {
		return Session{}, err
	}

	observer := &sessionObserver{
		key:      key,
		session:  resolved.session,
		sessions: m.sessions,
		reporter: progress.NewReporter(resolved.plan.FileSize, resolved.plan.StartOffset),
		listener: u.listener,
		logger:   m.logger,
	}

	start := time.Now()
	result, err := uploader.Upload(ctx, file, resolved.plan, observer)

	u.mu.Lock()
	u.uploader = nil
	if u.state.current() == StatePaused {
		// Paused right as the last chunk finished.
		_ = u.state.transition(StateChunkUploading)
	}
	u.mu.Unlock()

	if err != nil {
		return Session{}, err
	}

	session := observer.session
	session.TotalChunks = result.TotalChunks
	session.NextChunk = result.TotalChunks
	session.NextOffset = resolved.plan.FileSize
	if err := m.sessions.save(key, session); err != nil {
		m.logger.Warnf("Failed to persist upload session: %s", err)
	}

	stats := uploader.Stats()
	m.tracker.logChunksUploaded(time.Since(start), result.TotalChunks-resolved.plan.StartIndex, int(stats.Retries()))
	m.logger.Printf("Uploaded %d chunks in %s", result.TotalChunks-resolved.plan.StartIndex, time.Since(start).Round(time.Millisecond))
	m.logger.Debugf("Chunk requests took %s in total, %s on average",
		stats.TotalDuration().Round(time.Millisecond), stats.Average().Round(time.Millisecond))

	return session, nil
}

func (u *Upload) finalize(ctx context.Context, key string, session Session, filename string) (*Result, error) {
	m := u.manager

	if err := u.state.transition(StateFinalizing); err != nil {
		return nil, err
	}

	response, err := m.finalizer.complete(ctx, session, filename)
	if err != nil {
		return nil, err
	}

	if err := m.sessions.store.Delete(key); err != nil {
		m.logger.Warnf("Failed to delete finished upload session: %s", err)
	}
	if err := u.state.transition(StateCompleted); err != nil {
		return nil, err
	}

	result := &Result{
		Filename:    filename,
		VideoID:     response.ContentID(),
		FileID:      response.StoredFileID(),
		Strategy:    StrategyChunked,
		TotalChunks: session.TotalChunks,
	}
	result.Prefill = m.finalizer.prefetch(ctx, result.VideoID)

	return result, nil
}

// sessionObserver persists the confirmed prefix of a session and reports progress.
// Its calls are serialized by the chunk uploader.
type sessionObserver struct {
	key      string
	session  Session
	sessions sessionManager
	reporter *progress.Reporter
	listener Listener
	logger   log.Logger
}

func (o *sessionObserver) ChunkConfirmed(c chunkuploader.Confirmation) {
	if c.NextIndex != o.session.NextChunk {
		o.session.NextChunk = c.NextIndex
		o.session.NextOffset = c.NextOffset
		if err := o.sessions.save(o.key, o.session); err != nil {
			o.logger.Warnf("Failed to persist upload progress: %s", err)
		}
	}

	snapshot, sampled := o.reporter.Confirm(c.End())
	if sampled || snapshot.UploadedBytes == snapshot.TotalBytes {
		o.listener.Progress(snapshot)
	}
}

func (o *sessionObserver) ChunkRetried(index, attempt int, err error) {
	o.reporter.AddRetry()
	o.listener.Progress(o.reporter.Snapshot())
}
