package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/rpc-svl/svl-upload/upload/network"
)

const (
	catalogTimeout = 8 * time.Second
	maxTagLength   = 40
)

var fallbackCatalogs = map[network.CatalogKind][]string{
	network.CatalogCategories: {"Retina", "Cataract", "Glaucoma", "Cornea", "Oculoplasty", "Pediatric"},
	network.CatalogTags:       {"vitrectomy", "IOL", "trabeculectomy", "DMEK", "phaco", "buckling", "tips"},
	network.CatalogSurgeons:   {"Dr. Rao", "Dr. Mehta", "Dr. Singh", "Dr. Chawla", "Dr. Kapoor"},
}

// MetadataInput is the metadata form as the user filled it in.
// Category, tags and surgeons are written as "name" or "name : type".
type MetadataInput struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	Surgeons    []string
}

// MetadataSubmitter attaches metadata to uploaded videos and serves the form's datalists.
type MetadataSubmitter struct {
	api    network.API
	logger log.Logger
}

// NewMetadataSubmitter ...
func NewMetadataSubmitter(api network.API, logger log.Logger) *MetadataSubmitter {
	return &MetadataSubmitter{api: api, logger: logger}
}

// Submit stores the metadata of the video uploaded in result.
func (s *MetadataSubmitter) Submit(ctx context.Context, result *Result, input MetadataInput) (network.MetadataResponse, error) {
	if result == nil || (result.VideoID == "" && result.FileID == "") {
		return network.MetadataResponse{}, ErrNotUploaded
	}

	metadata, err := BuildMetadata(result, input)
	if err != nil {
		return network.MetadataResponse{}, err
	}

	response, err := s.api.SubmitMetadata(ctx, metadata)
	if err != nil {
		return network.MetadataResponse{}, fmt.Errorf("save metadata: %w", err)
	}
	s.logger.Donef("Metadata of %s saved", metadata.Title)

	return response, nil
}

// BuildMetadata validates the form and turns it into the backend's metadata document.
func BuildMetadata(result *Result, input MetadataInput) (network.Metadata, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return network.Metadata{}, &ValidationError{Reason: "title is required"}
	}

	return network.Metadata{
		FileID:      network.ID(result.FileID),
		UUID:        result.VideoID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Category:    ParseNameType(input.Category),
		Tags:        parseEntries(input.Tags),
		Surgeons:    parseEntries(input.Surgeons),
	}, nil
}

// DefaultTitle is the title proposed for an uploaded file: its base name.
func DefaultTitle(filename string) string {
	return filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
}

// ParseNameType splits "name : type" into its parts. The type is optional.
func ParseNameType(s string) network.NameType {
	s = strings.TrimSpace(s)
	if s == "" {
		return network.NameType{}
	}

	parts := strings.Split(s, ":")
	entry := network.NameType{Name: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		entry.Type = strings.TrimSpace(parts[1])
	}
	return entry
}

// SanitizeTag normalizes a tag or surgeon entry: commas become spaces, whitespace
// runs collapse and the result is trimmed to 40 characters.
func SanitizeTag(s string) string {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, ",", " ")), " ")
	if utf8.RuneCountInString(s) > maxTagLength {
		s = strings.TrimSpace(string([]rune(s)[:maxTagLength]))
	}
	return s
}

// SanitizeTags sanitizes every entry and drops empty and repeated ones, keeping the first occurrence.
func SanitizeTags(entries []string) []string {
	seen := map[string]bool{}
	var result []string
	for _, e := range entries {
		e = SanitizeTag(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		result = append(result, e)
	}
	return result
}

func parseEntries(entries []string) []network.NameType {
	sanitized := SanitizeTags(entries)
	result := make([]network.NameType, 0, len(sanitized))
	for _, e := range sanitized {
		result = append(result, ParseNameType(e))
	}
	return result
}

// Catalog returns the datalist of kind, or the built-in list when the backend can't serve it.
func (s *MetadataSubmitter) Catalog(ctx context.Context, kind network.CatalogKind) []string {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	entries, err := s.api.ListCatalog(ctx, kind)
	if err != nil {
		s.logger.Debugf("Using built-in %s: %s", kind, err)
		return append([]string(nil), fallbackCatalogs[kind]...)
	}
	return entries
}
