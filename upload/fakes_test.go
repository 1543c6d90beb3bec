package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/require"

	"github.com/rpc-svl/svl-upload/upload/network"
	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
	"github.com/rpc-svl/svl-upload/upload/progress"
)

const testVideoID = "7d444840-9dc0-11d1-b245-5ffdce74fad2"

// mp4Header is the smallest header content sniffing recognizes as video/mp4.
var mp4Header = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")

func writeVideo(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	copy(content, mp4Header)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path, content
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type sentChunk struct {
	uploadID string
	index    int
	offset   int64
	size     int64
	checksum string
}

type fakeAPI struct {
	mu sync.Mutex

	initResponse network.InitResponse
	initCalls    []network.InitRequest

	statusResponse network.StatusResponse
	statusErr      error
	statusCalls    int

	// chunkErr, when set, decides the outcome of every chunk request.
	chunkErr func(chunk chunkuploader.Chunk) error
	// onChunk runs before a chunk request is answered.
	onChunk func(chunk chunkuploader.Chunk)
	chunks  []sentChunk

	completeErrs     []error
	completeResponse network.CompleteResponse
	completeCalls    []network.CompleteRequest

	uploadFileResponse network.CompleteResponse
	uploadFileCalls    int

	metadata      map[string]network.Metadata
	submitted     []network.Metadata
	catalog       map[network.CatalogKind][]string
	catalogErr    error
	fetchMetaCall int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		initResponse:       network.InitResponse{UploadID: "upload-1", ChunkSize: 50, TotalChunks: 5},
		completeResponse:   network.CompleteResponse{UUID: testVideoID, FileID: "42"},
		uploadFileResponse: network.CompleteResponse{UUID: testVideoID, FileID: "41"},
		metadata:           map[string]network.Metadata{},
	}
}

func (f *fakeAPI) InitUpload(_ context.Context, request network.InitRequest) (network.InitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, request)
	return f.initResponse, nil
}

func (f *fakeAPI) UploadStatus(_ context.Context, uploadID string) (network.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return network.StatusResponse{}, f.statusErr
	}
	return f.statusResponse, nil
}

func (f *fakeAPI) SendChunk(ctx context.Context, uploadID string, chunk chunkuploader.Chunk) error {
	if f.onChunk != nil {
		f.onChunk(chunk)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		if err := f.chunkErr(chunk); err != nil {
			return err
		}
	}
	f.chunks = append(f.chunks, sentChunk{
		uploadID: uploadID,
		index:    chunk.Index,
		offset:   chunk.Offset,
		size:     chunk.Size,
		checksum: chunk.SHA256,
	})
	return nil
}

func (f *fakeAPI) CompleteUpload(_ context.Context, request network.CompleteRequest) (network.CompleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, request)
	if len(f.completeErrs) > 0 {
		err := f.completeErrs[0]
		f.completeErrs = f.completeErrs[1:]
		if err != nil {
			return network.CompleteResponse{}, err
		}
	}
	return f.completeResponse, nil
}

func (f *fakeAPI) UploadFile(_ context.Context, request network.FileUploadRequest) (network.CompleteResponse, error) {
	f.mu.Lock()
	f.uploadFileCalls++
	f.mu.Unlock()

	size := request.Source.Size()
	if request.OnProgress != nil {
		request.OnProgress(size / 2)
		request.OnProgress(size)
	}
	return f.uploadFileResponse, nil
}

func (f *fakeAPI) SubmitMetadata(_ context.Context, metadata network.Metadata) (network.MetadataResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, metadata)
	return network.MetadataResponse{VideoID: "17"}, nil
}

func (f *fakeAPI) FetchMetadata(_ context.Context, videoID string) (network.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchMetaCall++
	metadata, ok := f.metadata[videoID]
	if !ok {
		return network.Metadata{}, network.ErrNotFound
	}
	return metadata, nil
}

func (f *fakeAPI) ListCatalog(_ context.Context, kind network.CatalogKind) ([]string, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.catalog[kind], nil
}

func (f *fakeAPI) sentIndices() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var indices []int
	for _, c := range f.chunks {
		indices = append(indices, c.index)
	}
	sort.Ints(indices)
	return indices
}

func (f *fakeAPI) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

type recordingListener struct {
	mu        sync.Mutex
	states    []State
	snapshots []progress.Snapshot
}

func (l *recordingListener) StateChanged(_, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, to)
}

func (l *recordingListener) Progress(snapshot progress.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, snapshot)
}

func (l *recordingListener) recordedStates() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type fakeTracker struct {
	mu     sync.Mutex
	events []string
}

func (t *fakeTracker) Enqueue(eventName string, _ ...analytics.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, eventName)
}

func (t *fakeTracker) Wait() {}
