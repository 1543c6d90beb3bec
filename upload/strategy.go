package upload

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
)

// Strategy is the transfer mode picked for a file.
type Strategy string

// Strategies
const (
	StrategySingle  Strategy = "single"
	StrategyChunked Strategy = "chunked"
)

// FileInfo describes the selected file.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
}

// Limits ...
type Limits struct {
	ChunkedThreshold int64
	MaxFileSize      int64
}

// SelectStrategy validates the file and picks single-shot below the chunked threshold,
// chunked at or above it.
func SelectStrategy(file FileInfo, limits Limits) (Strategy, error) {
	if !strings.HasPrefix(file.ContentType, "video/") {
		return "", &ValidationError{Reason: fmt.Sprintf("%s is not a video (%s)", file.Name, contentTypeOrUnknown(file.ContentType))}
	}
	if file.Size <= 0 {
		return "", &ValidationError{Reason: fmt.Sprintf("%s is empty", file.Name)}
	}
	if limits.MaxFileSize > 0 && file.Size > limits.MaxFileSize {
		return "", &ValidationError{Reason: fmt.Sprintf("file is too large (%.1f MB), limit is %.0f MB",
			float64(file.Size)/units.MiB, float64(limits.MaxFileSize)/units.MiB)}
	}

	if file.Size >= limits.ChunkedThreshold {
		return StrategyChunked, nil
	}
	return StrategySingle, nil
}

// videoExtensions maps the container formats the library accepts to their MIME type,
// independent of the host's MIME database.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".qt":   "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
	".mts":  "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".3gp":  "video/3gpp",
}

// sniffLimit is how much of the file content detection reads.
const sniffLimit = 3072

// DetectContentType resolves the MIME type of a file from its video extension,
// falling back to sniffing its content.
func DetectContentType(name string, content io.ReaderAt) string {
	if byExtension, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return byExtension
	}

	detected, err := mimetype.DetectReader(io.NewSectionReader(content, 0, sniffLimit))
	if err != nil {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return ""
	}
	return mediaType
}

func contentTypeOrUnknown(contentType string) string {
	if contentType == "" {
		return "unknown type"
	}
	return contentType
}
