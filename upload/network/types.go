package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
)

// InitRequest opens a chunked upload session.
type InitRequest struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	ChunkSize  int64  `json:"chunk_size"`
	FileSHA256 string `json:"file_sha256"`
}

// InitResponse ...
type InitResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// StatusResponse is the backend's view of a chunked upload session.
type StatusResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	NextIndex   int    `json:"next_index"`
	// ReceivedBytes is optional; when reported it is the authoritative resume offset.
	ReceivedBytes *int64 `json:"received_bytes,omitempty"`
}

// CompleteRequest finalizes a chunked upload session.
type CompleteRequest struct {
	UploadID    string `json:"upload_id"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
}

// CompleteResponse is returned by both the finalize and the single-shot upload endpoints.
type CompleteResponse struct {
	UUID    string `json:"uuid"`
	VideoID ID     `json:"video_id"`
	FileID  ID     `json:"file_id"`
	ID      ID     `json:"id"`
}

// ContentID returns the durable identifier of the uploaded video.
func (r CompleteResponse) ContentID() string {
	for _, id := range []string{r.UUID, string(r.VideoID), string(r.FileID), string(r.ID)} {
		if id != "" {
			return id
		}
	}
	return ""
}

// StoredFileID returns the identifier of the stored file record, if any.
func (r CompleteResponse) StoredFileID() string {
	if r.FileID != "" {
		return string(r.FileID)
	}
	return string(r.ID)
}

// FileUploadRequest is a single-shot multipart upload of a whole file.
type FileUploadRequest struct {
	Filename    string
	ContentType string
	Source      chunkuploader.Source
	// OnProgress is called with the number of bytes of the file sent so far.
	OnProgress func(sent int64)
}

// NameType is a named catalog entry with an optional type, such as a category.
type NameType struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Metadata describes an uploaded video.
type Metadata struct {
	FileID      ID         `json:"file_id,omitempty"`
	UUID        string     `json:"uuid,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    NameType   `json:"category"`
	Tags        []NameType `json:"tags"`
	Surgeons    []NameType `json:"surgeons"`
}

// MetadataResponse ...
type MetadataResponse struct {
	VideoID ID `json:"video_id"`
}

// CatalogKind names a datalist offered by the backend.
type CatalogKind string

// Catalog kinds
const (
	CatalogCategories CatalogKind = "categories"
	CatalogTags       CatalogKind = "tags"
	CatalogSurgeons   CatalogKind = "surgeons"
)

// ID is an identifier the backend sends either as a JSON string or as a number.
type ID string

// UnmarshalJSON ...
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("invalid numeric id %s: %w", n, err)
	}
	*id = ID(n.String())
	return nil
}
