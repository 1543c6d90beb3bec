package network

import (
	"context"

	"github.com/rpc-svl/svl-upload/upload/network/chunkuploader"
)

// API is the video library backend as seen by the upload client.
type API interface {
	chunkuploader.Sender

	InitUpload(ctx context.Context, request InitRequest) (InitResponse, error)
	UploadStatus(ctx context.Context, uploadID string) (StatusResponse, error)
	CompleteUpload(ctx context.Context, request CompleteRequest) (CompleteResponse, error)
	UploadFile(ctx context.Context, request FileUploadRequest) (CompleteResponse, error)

	SubmitMetadata(ctx context.Context, metadata Metadata) (MetadataResponse, error)
	FetchMetadata(ctx context.Context, videoID string) (Metadata, error)
	ListCatalog(ctx context.Context, kind CatalogKind) ([]string, error)
}
