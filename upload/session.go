package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/rpc-svl/svl-upload/upload/network"
	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
	"github.com/rpc-svl/svl-upload/upload/sessionstore"
)

// Session is the persisted state of a resumable chunked upload.
type Session struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	NextChunk   int    `json:"next_chunk"`
	// NextOffset is the byte offset of the first unconfirmed chunk.
	NextOffset int64 `json:"next_offset"`
}

// resolvedSession is a session ready to continue, and where to continue it from.
type resolvedSession struct {
	session Session
	resumed bool
	// complete means every chunk is on the backend already.
	complete bool
	plan     chunkuploader.Plan
}

type sessionManager struct {
	api    network.API
	store  sessionstore.Store
	hash   func(path string) (string, error)
	logger log.Logger
}

func (m sessionManager) load(key string) (Session, bool, error) {
	data, ok, err := m.store.Get(key)
	if err != nil || !ok {
		return Session{}, false, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		m.logger.Warnf("Dropping unreadable upload session %s: %s", key, err)
		return Session{}, false, m.store.Delete(key)
	}
	return session, true, nil
}

func (m sessionManager) save(key string, session Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return m.store.Set(key, data)
}

// resolve continues the persisted session of the file if the backend still has it,
// otherwise opens a new one.
func (m sessionManager) resolve(ctx context.Context, key, path, filename string, size, chunkSize int64) (resolvedSession, error) {
	stored, ok, err := m.load(key)
	if err != nil {
		return resolvedSession{}, fmt.Errorf("load upload session: %w", err)
	}

	if ok {
		resolved, err := m.reconcile(ctx, stored, size)
		switch {
		case err == nil:
			return resolved, nil
		case ctx.Err() != nil:
			return resolvedSession{}, ctx.Err()
		case errors.Is(err, network.ErrSessionNotFound):
			m.logger.Infof("Upload session %s is no longer known by the server, starting over", stored.UploadID)
		default:
			m.logger.Warnf("%s, starting a new upload session", err)
		}
		if err := m.store.Delete(key); err != nil {
			m.logger.Warnf("Failed to delete stale upload session: %s", err)
		}
	}

	return m.open(ctx, key, path, filename, size, chunkSize)
}

// reconcile matches a persisted session against the backend's progress.
// The server's received_bytes wins; the local offset is only trusted while both cursors agree.
func (m sessionManager) reconcile(ctx context.Context, stored Session, size int64) (resolvedSession, error) {
	status, err := m.api.UploadStatus(ctx, stored.UploadID)
	if err != nil {
		if errors.Is(err, network.ErrSessionNotFound) || ctx.Err() != nil {
			return resolvedSession{}, err
		}
		return resolvedSession{}, &SessionReconciliationError{UploadID: stored.UploadID, Err: err}
	}

	inconsistent := func(format string, v ...interface{}) error {
		return &SessionReconciliationError{UploadID: stored.UploadID, Err: fmt.Errorf(format, v...)}
	}

	if status.UploadID != "" && status.UploadID != stored.UploadID {
		return resolvedSession{}, inconsistent("server answered for session %s", status.UploadID)
	}
	if status.ChunkSize <= 0 || status.TotalChunks <= 0 || status.NextIndex < 0 {
		return resolvedSession{}, inconsistent("invalid server state: chunk_size=%d total_chunks=%d next_index=%d",
			status.ChunkSize, status.TotalChunks, status.NextIndex)
	}

	session := Session{
		UploadID:    stored.UploadID,
		ChunkSize:   status.ChunkSize,
		TotalChunks: status.TotalChunks,
		NextChunk:   status.NextIndex,
	}

	if remoteComplete(stored, status, size) {
		session.TotalChunks = status.NextIndex
		session.NextOffset = size
		m.logger.Infof("All chunks of session %s are on the server already", stored.UploadID)
		return resolvedSession{session: session, resumed: true, complete: true}, nil
	}

	var offset int64
	switch {
	case status.ReceivedBytes != nil:
		offset = *status.ReceivedBytes
	case status.NextIndex == stored.NextChunk && stored.NextOffset > 0:
		offset = stored.NextOffset
	default:
		offset = int64(status.NextIndex) * status.ChunkSize
	}
	if offset < 0 || offset >= size {
		return resolvedSession{}, inconsistent("resume offset %d is outside of the %d byte file", offset, size)
	}
	session.NextOffset = offset

	m.logger.Infof("Resuming session %s from chunk %d/%d", stored.UploadID, status.NextIndex, status.TotalChunks)

	return resolvedSession{
		session: session,
		resumed: true,
		plan: chunkuploader.Plan{
			UploadID:    session.UploadID,
			FileSize:    size,
			ChunkSize:   session.ChunkSize,
			StartIndex:  session.NextChunk,
			StartOffset: session.NextOffset,
		},
	}, nil
}

// remoteComplete reports whether the backend holds the whole file. Adaptive sizing can carve
// more chunks than the session was opened with, so the chunk count alone is only trusted
// when nothing better is known.
func remoteComplete(stored Session, status network.StatusResponse, size int64) bool {
	if status.ReceivedBytes != nil {
		return *status.ReceivedBytes >= size
	}
	if stored.NextOffset > 0 && status.NextIndex == stored.NextChunk {
		return stored.NextOffset >= size
	}
	return status.NextIndex >= status.TotalChunks
}

func (m sessionManager) open(ctx context.Context, key, path, filename string, size, chunkSize int64) (resolvedSession, error) {
	checksum, err := m.hash(path)
	if err != nil {
		return resolvedSession{}, fmt.Errorf("hash file: %w", err)
	}

	response, err := m.api.InitUpload(ctx, network.InitRequest{
		Filename:   filename,
		Size:       size,
		ChunkSize:  chunkSize,
		FileSHA256: checksum,
	})
	if err != nil {
		return resolvedSession{}, fmt.Errorf("init upload session: %w", err)
	}

	if response.ChunkSize <= 0 {
		response.ChunkSize = chunkSize
	}
	if response.TotalChunks <= 0 {
		response.TotalChunks = int((size + response.ChunkSize - 1) / response.ChunkSize)
	}

	session := Session{
		UploadID:    response.UploadID,
		ChunkSize:   response.ChunkSize,
		TotalChunks: response.TotalChunks,
	}
	if err := m.save(key, session); err != nil {
		return resolvedSession{}, fmt.Errorf("persist upload session: %w", err)
	}
	m.logger.Debugf("Opened upload session %s: %d chunks of %d bytes", session.UploadID, session.TotalChunks, session.ChunkSize)

	return resolvedSession{
		session: session,
		plan: chunkuploader.Plan{
			UploadID:  session.UploadID,
			FileSize:  size,
			ChunkSize: session.ChunkSize,
		},
	}, nil
}
