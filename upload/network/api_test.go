package network

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(ClientParams{
		BaseURL:        server.URL,
		Token:          token,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
	}, log.NewLogger())
	require.NoError(t, err)
	client.httpClient.RetryWaitMin = time.Millisecond
	client.httpClient.RetryWaitMax = time.Millisecond
	return client
}

func TestNewClient_validatesBaseURL(t *testing.T) {
	_, err := NewClient(ClientParams{}, log.NewLogger())
	require.EqualError(t, err, "API base URL is empty")

	_, err = NewClient(ClientParams{BaseURL: "not a url"}, log.NewLogger())
	require.Error(t, err)
}

func TestInitUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload/init", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var request InitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, InitRequest{Filename: "surgery.mp4", Size: 250, ChunkSize: 50, FileSHA256: "abc"}, request)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"upload_id":"u-1","chunk_size":50,"total_chunks":5}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "secret")
	response, err := client.InitUpload(context.Background(), InitRequest{Filename: "surgery.mp4", Size: 250, ChunkSize: 50, FileSHA256: "abc"})
	require.NoError(t, err)
	assert.Equal(t, InitResponse{UploadID: "u-1", ChunkSize: 50, TotalChunks: 5}, response)
}

func TestInitUpload_missingUploadID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chunk_size":50}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server, "").InitUpload(context.Background(), InitRequest{})
	require.EqualError(t, err, "init response has no upload_id")
}

func TestControlRequestsRetryServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"upload_id":"u-1","chunk_size":50,"total_chunks":5,"next_index":2}`))
	}))
	defer server.Close()

	status, err := newTestClient(t, server, "").UploadStatus(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.NextIndex)
	assert.Nil(t, status.ReceivedBytes)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestControlRequestsReturnLastResponseWhenRetriesRunOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := newTestClient(t, server, "").CompleteUpload(context.Background(), CompleteRequest{UploadID: "u-1"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Body)
	assert.True(t, IsTransient(err))
}

func TestUploadStatus(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		want      StatusResponse
		wantError error
	}{
		{
			name:   "in progress with received bytes",
			status: http.StatusOK,
			body:   `{"upload_id":"u-1","chunk_size":50,"total_chunks":5,"next_index":3,"received_bytes":140}`,
			want:   StatusResponse{UploadID: "u-1", ChunkSize: 50, TotalChunks: 5, NextIndex: 3, ReceivedBytes: int64Ptr(140)},
		},
		{
			name:      "unknown session",
			status:    http.StatusNotFound,
			wantError: ErrSessionNotFound,
		},
		{
			name:      "expired session",
			status:    http.StatusGone,
			wantError: ErrSessionNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/upload/status", r.URL.Path)
				assert.Equal(t, "u-1", r.URL.Query().Get("upload_id"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			got, err := newTestClient(t, server, "").UploadStatus(context.Background(), "u-1")
			if tc.wantError != nil {
				require.ErrorIs(t, err, tc.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSendChunk(t *testing.T) {
	data := []byte("0123456789")
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload/chunk", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "u-1", r.FormValue("upload_id"))
		assert.Equal(t, "3", r.FormValue("index"))
		assert.Equal(t, checksum, r.FormValue("chunk_sha256"))

		file, _, err := r.FormFile("chunk")
		require.NoError(t, err)
		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := newTestClient(t, server, "").SendChunk(context.Background(), "u-1", chunkuploader.Chunk{
		Index:  3,
		Offset: 30,
		Size:   int64(len(data)),
		SHA256: checksum,
		Data:   data,
	})
	require.NoError(t, err)
}

func TestSendChunk_makesOneAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(t, server, "").SendChunk(context.Background(), "u-1", chunkuploader.Chunk{Data: []byte("x"), Size: 1})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUploadFile(t *testing.T) {
	content := bytes.Repeat([]byte("v"), 64*1024)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		assert.Greater(t, r.ContentLength, int64(len(content)))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "clip.mp4", header.Filename)
		assert.Equal(t, "video/mp4", header.Header.Get("Content-Type"))
		got, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		_, _ = w.Write([]byte(`{"uuid":"7d444840-9dc0-11d1-b245-5ffdce74fad2","file_id":42}`))
	}))
	defer server.Close()

	var lastSent int64
	response, err := newTestClient(t, server, "").UploadFile(context.Background(), FileUploadRequest{
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Source:      bytes.NewReader(content),
		OnProgress:  func(sent int64) { lastSent = sent },
	})
	require.NoError(t, err)
	assert.Equal(t, "7d444840-9dc0-11d1-b245-5ffdce74fad2", response.ContentID())
	assert.Equal(t, "42", response.StoredFileID())
	assert.Equal(t, int64(len(content)), lastSent)
}

func TestUploadFile_unexpectedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server, "").UploadFile(context.Background(), FileUploadRequest{
		Filename: "clip.mp4",
		Source:   bytes.NewReader([]byte("data")),
	})
	require.EqualError(t, err, "unexpected upload response: no uuid or video_id")
}

func TestFetchMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/7d444840-9dc0-11d1-b245-5ffdce74fad2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"uuid":"7d444840-9dc0-11d1-b245-5ffdce74fad2","title":"Phaco","category":{"name":"Cataract"},"tags":[{"name":"IOL"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, "")

	metadata, err := client.FetchMetadata(context.Background(), "7d444840-9dc0-11d1-b245-5ffdce74fad2")
	require.NoError(t, err)
	assert.Equal(t, "Phaco", metadata.Title)
	assert.Equal(t, NameType{Name: "Cataract"}, metadata.Category)
	assert.Equal(t, []NameType{{Name: "IOL"}}, metadata.Tags)

	_, err = client.FetchMetadata(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Retina detachment", body["title"])
		assert.Equal(t, map[string]interface{}{"name": "Retina", "type": "posterior"}, body["category"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"video_id":17}`))
	}))
	defer server.Close()

	response, err := newTestClient(t, server, "").SubmitMetadata(context.Background(), Metadata{
		UUID:     "7d444840-9dc0-11d1-b245-5ffdce74fad2",
		Title:    "Retina detachment",
		Category: NameType{Name: "Retina", Type: "posterior"},
	})
	require.NoError(t, err)
	assert.Equal(t, ID("17"), response.VideoID)
}

func TestListCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			_, _ = w.Write([]byte(`["Retina",{"name":"Cataract","type":"anterior"}]`))
		case "/tags":
			_, _ = w.Write([]byte(`{"items":[{"slug":"dmek"},{"id":7},"  "]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "")

	categories, err := client.ListCatalog(context.Background(), CatalogCategories)
	require.NoError(t, err)
	assert.Equal(t, []string{"Retina", "Cataract : anterior"}, categories)

	tags, err := client.ListCatalog(context.Background(), CatalogTags)
	require.NoError(t, err)
	assert.Equal(t, []string{"dmek", "7"}, tags)

	_, err = client.ListCatalog(context.Background(), CatalogSurgeons)
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "server error", err: &HTTPError{StatusCode: 503}, want: true},
		{name: "too many requests", err: &HTTPError{StatusCode: 429}, want: true},
		{name: "request timeout", err: &HTTPError{StatusCode: 408}, want: true},
		{name: "bad request", err: &HTTPError{StatusCode: 400}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIDUnmarshal(t *testing.T) {
	var response CompleteResponse
	require.NoError(t, json.Unmarshal([]byte(`{"video_id":"abc","file_id":12,"id":null}`), &response))
	assert.Equal(t, ID("abc"), response.VideoID)
	assert.Equal(t, ID("12"), response.FileID)
	assert.Equal(t, ID(""), response.ID)
	assert.Equal(t, "abc", response.ContentID())

	var id ID
	require.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
}

func int64Ptr(v int64) *int64 {
	return &v
}
