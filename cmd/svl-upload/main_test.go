package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpc-svl/svl-upload/config"
	"github.com/rpc-svl/svl-upload/upload"
	"github.com/rpc-svl/svl-upload/upload/network"
	"github.com/rpc-svl/svl-upload/upload/progress"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs([]string{
		"-title", "Phaco", "-tag", "phaco", "-tag", "IOL : lens", "-surgeon", "Dr. Rao",
		"-finalize-only", "a.mp4", "b.mp4",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "Phaco", opts.title)
	assert.Equal(t, stringList{"phaco", "IOL : lens"}, opts.tags)
	assert.Equal(t, stringList{"Dr. Rao"}, opts.surgeons)
	assert.True(t, opts.finalizeOnly)
	assert.True(t, opts.wantsMetadata())
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, opts.paths)
}

func TestParseArgs_errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no file", args: nil, wantErr: "no file given"},
		{name: "unknown catalog", args: []string{"-catalog", "hospitals"}, wantErr: `unknown catalog "hospitals", use one of categories, tags, surgeons`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, &bytes.Buffer{})
			require.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestParseArgs_catalogNeedsNoFile(t *testing.T) {
	opts, err := parseArgs([]string{"-catalog", "surgeons"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, string(network.CatalogSurgeons), opts.catalog)
	assert.False(t, opts.wantsMetadata())
}

func TestOptions_metadataInput(t *testing.T) {
	opts := options{tags: stringList{"tips"}}

	input := opts.metadataInput(&upload.Result{Filename: "case.mp4"})
	assert.Equal(t, "case.mp4", input.Title)
	assert.Equal(t, []string{"tips"}, input.Tags)

	input = opts.metadataInput(&upload.Result{Filename: "case.mp4", Prefill: &network.Metadata{Title: "Known case"}})
	assert.Equal(t, "Known case", input.Title)

	opts.title = "Explicit"
	input = opts.metadataInput(&upload.Result{Filename: "case.mp4", Prefill: &network.Metadata{Title: "Known case"}})
	assert.Equal(t, "Explicit", input.Title)
}

func TestManagerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.ParallelChunks = 5
	cfg.AdaptiveChunks = false
	cfg.RetryBaseDelay = time.Second

	options := managerOptions(cfg)

	assert.Equal(t, cfg.ChunkedThreshold, options.Limits.ChunkedThreshold)
	assert.Equal(t, cfg.MaxFileSize, options.Limits.MaxFileSize)
	assert.Equal(t, cfg.ChunkSize, options.ChunkSize)
	assert.Equal(t, 5, options.Chunks.Concurrency)
	assert.Equal(t, cfg.MaxRetries, options.Chunks.MaxRetries)
	assert.Equal(t, time.Second, options.Chunks.BaseDelay)
	assert.False(t, options.Chunks.Sizing.Enabled)
	assert.Equal(t, cfg.MinChunkSize, options.Chunks.Sizing.MinChunkSize)
	assert.Equal(t, cfg.MaxChunkSize, options.Chunks.Sizing.MaxChunkSize)
	assert.Equal(t, uint(2), options.FinalizeAttempts)
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mov", "nested/c.mp4", "nested/deeper/d.mp4", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "plain paths",
			args: []string{filepath.Join(dir, "b.mov"), filepath.Join(dir, "a.mp4")},
			want: []string{"b.mov", "a.mp4"},
		},
		{
			name: "doublestar pattern",
			args: []string{filepath.Join(dir, "**", "*.mp4")},
			want: []string{"a.mp4", "nested/c.mp4", "nested/deeper/d.mp4"},
		},
		{
			name: "duplicates and directories are dropped",
			args: []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "*.mp4"), filepath.Join(dir, "nested")},
			want: []string{"a.mp4"},
		},
		{
			name: "missing files and empty patterns",
			args: []string{filepath.Join(dir, "missing.mp4"), filepath.Join(dir, "*.mkv")},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expandPaths(tt.args, pathutil.NewPathModifier(), log.NewLogger())

			var want []string
			for _, name := range tt.want {
				want = append(want, filepath.Join(dir, filepath.FromSlash(name)))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestSplitPattern(t *testing.T) {
	tests := []struct {
		in      string
		base    string
		pattern string
	}{
		{in: "/videos/**/*.mp4", base: "/videos", pattern: "**/*.mp4"},
		{in: "/videos/2024/case-?.mp4", base: "/videos/2024", pattern: "case-?.mp4"},
		{in: "/*.mp4", base: "/", pattern: "*.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, pattern := splitPattern(tt.in)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.pattern, pattern)
		})
	}
}

func TestFormatSnapshot(t *testing.T) {
	s := progress.Snapshot{
		UploadedBytes: 3 * 1024 * 1024,
		TotalBytes:    12 * 1024 * 1024,
		Percent:       25,
		SpeedBps:      1024 * 1024,
		ETA:           9 * time.Second,
		ETAKnown:      true,
		Retries:       2,
	}
	assert.Equal(t, " 25.0% (3MiB / 12MiB) 1.05 MB/s, 9s left, 2 retries", formatSnapshot(s))

	assert.Equal(t, "  0.0% (0B / 12MiB)", formatSnapshot(progress.Snapshot{TotalBytes: 12 * 1024 * 1024}))
}

func TestController_interrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exitCode int
	ctrl := newController(cancel, log.NewLogger())
	ctrl.exit = func(code int) { exitCode = code }

	ctrl.handle(os.Interrupt)
	assert.Error(t, ctx.Err())
	assert.Zero(t, exitCode)

	ctrl.handle(os.Interrupt)
	assert.Equal(t, 130, exitCode)
}

func TestController_togglePauseWithoutUpload(t *testing.T) {
	ctrl := newController(func() {}, log.NewLogger())

	assert.NotPanics(t, func() { ctrl.handle(syscall.SIGUSR1) })
}
