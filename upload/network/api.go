package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
)

const defaultRequestTimeout = 60 * time.Second

// ClientParams ...
type ClientParams struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	// MaxRetries applies to control requests (init, status, complete, metadata).
	// Chunk and single-shot transfers are never retried by the HTTP client.
	MaxRetries int
}

// Client talks to the video library backend.
type Client struct {
	httpClient     *retryablehttp.Client
	transferClient *retryablehttp.Client
	baseURL        string
	auth           *bearerAuth
	logger         log.Logger
}

// NewClient ...
func NewClient(params ClientParams, logger log.Logger) (*Client, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}
	if _, err := url.ParseRequestURI(params.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if params.RequestTimeout <= 0 {
		params.RequestTimeout = defaultRequestTimeout
	}

	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = params.MaxRetries
	httpClient.CheckRetry = createCustomRetryFunction(logger)
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.HTTPClient.Timeout = params.RequestTimeout

	// Chunk retries are owned by the chunk uploader, single-shot uploads are bounded by the caller.
	transferClient := retryhttp.NewClient(logger)
	transferClient.RetryMax = 0
	transferClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient:     httpClient,
		transferClient: transferClient,
		baseURL:        strings.TrimRight(params.BaseURL, "/"),
		auth:           newBearerAuth(params.Token, logger),
		logger:         logger,
	}, nil
}

func createCustomRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

// InitUpload opens a new chunked upload session.
func (c *Client) InitUpload(ctx context.Context, request InitRequest) (InitResponse, error) {
	var response InitResponse
	if err := c.postJSON(ctx, "/upload/init", request, &response); err != nil {
		return InitResponse{}, err
	}
	if response.UploadID == "" {
		return InitResponse{}, fmt.Errorf("init response has no upload_id")
	}
	return response, nil
}

// UploadStatus returns the backend's progress of a session.
// An unknown or expired session is ErrSessionNotFound.
func (c *Client) UploadStatus(ctx context.Context, uploadID string) (StatusResponse, error) {
	apiURL := fmt.Sprintf("%s/upload/status?upload_id=%s", c.baseURL, url.QueryEscape(uploadID))

	req, err := retryablehttp.NewRequest(http.MethodGet, apiURL, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	c.auth.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StatusResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return StatusResponse{}, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return StatusResponse{}, unwrapError(resp)
	}

	var response StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return StatusResponse{}, fmt.Errorf("decode status response: %w", err)
	}
	return response, nil
}

// SendChunk uploads one chunk as multipart/form-data. It makes exactly one attempt.
func (c *Client) SendChunk(ctx context.Context, uploadID string, chunk chunkuploader.Chunk) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := [][2]string{
		{"upload_id", uploadID},
		{"index", strconv.Itoa(chunk.Index)},
		{"chunk_sha256", chunk.SHA256},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return fmt.Errorf("write %s field: %w", field[0], err)
		}
	}
	part, err := writer.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", chunk.Index))
	if err != nil {
		return fmt.Errorf("create chunk part: %w", err)
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return fmt.Errorf("write chunk part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/upload/chunk", body.Bytes())
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.auth.authorize(req)

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk request dump: %s", string(dump))

	resp, err := c.transferClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Chunk response dump: %s", string(dump))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unwrapError(resp)
	}
	return nil
}

// CompleteUpload finalizes a session once every chunk is acknowledged.
func (c *Client) CompleteUpload(ctx context.Context, request CompleteRequest) (CompleteResponse, error) {
	var response CompleteResponse
	if err := c.postJSON(ctx, "/upload/complete", request, &response); err != nil {
		return CompleteResponse{}, err
	}
	return response, nil
}

// UploadFile sends the whole file in one multipart request under the "file" field.
func (c *Client) UploadFile(ctx context.Context, request FileUploadRequest) (CompleteResponse, error) {
	var head bytes.Buffer
	writer := multipart.NewWriter(&head)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(request.Filename)))
	contentType := request.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	if _, err := writer.CreatePart(header); err != nil {
		return CompleteResponse{}, fmt.Errorf("create file part: %w", err)
	}
	prefix := append([]byte(nil), head.Bytes()...)

	head.Reset()
	if err := writer.Close(); err != nil {
		return CompleteResponse{}, fmt.Errorf("close multipart body: %w", err)
	}
	suffix := append([]byte(nil), head.Bytes()...)

	size := request.Source.Size()
	bodyFunc := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		file := &countingReader{
			reader:     io.NewSectionReader(request.Source, 0, size),
			onProgress: request.OnProgress,
		}
		return io.MultiReader(bytes.NewReader(prefix), file, bytes.NewReader(suffix)), nil
	})

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/upload", bodyFunc)
	if err != nil {
		return CompleteResponse{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	c.auth.authorize(req)

	// Add Content-Length manually because retryablehttp can't measure a ReaderFunc body
	contentLength := int64(len(prefix)) + size + int64(len(suffix))
	req.Header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	req.ContentLength = contentLength

	resp, err := c.transferClient.Do(req)
	if err != nil {
		return CompleteResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CompleteResponse{}, unwrapError(resp)
	}

	var response CompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return CompleteResponse{}, fmt.Errorf("decode upload response: %w", err)
	}
	if response.UUID == "" && response.VideoID == "" {
		return CompleteResponse{}, fmt.Errorf("unexpected upload response: no uuid or video_id")
	}
	return response, nil
}

// SubmitMetadata stores the descriptive metadata of an uploaded video.
func (c *Client) SubmitMetadata(ctx context.Context, metadata Metadata) (MetadataResponse, error) {
	var response MetadataResponse
	if err := c.postJSON(ctx, "/", metadata, &response); err != nil {
		return MetadataResponse{}, err
	}
	return response, nil
}

// FetchMetadata returns the stored metadata of a video, or ErrNotFound.
func (c *Client) FetchMetadata(ctx context.Context, videoID string) (Metadata, error) {
	var metadata Metadata
	err := c.getJSON(ctx, "/"+url.PathEscape(videoID), &metadata)
	if err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// ListCatalog returns the datalist entries of kind rendered as "name" or "name : type".
func (c *Client) ListCatalog(ctx context.Context, kind CatalogKind) ([]string, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/"+string(kind), &raw); err != nil {
		return nil, err
	}
	return parseCatalog(raw)
}

func (c *Client) postJSON(ctx context.Context, path string, requestBody, response interface{}) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.auth.authorize(req)

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Response dump: %s", string(dump))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unwrapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response of %s: %w", path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, response interface{}) error {
	req, err := retryablehttp.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	c.auth.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return unwrapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response of %s: %w", path, err)
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

type countingReader struct {
	reader     io.Reader
	sent       int64
	onProgress func(int64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.onProgress != nil {
			r.onProgress(r.sent)
		}
	}
	return n, err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
