// svl-upload uploads surgical videos to the video library.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/rpc-svl/svl-upload/analytics"
	"github.com/rpc-svl/svl-upload/config"
	"github.com/rpc-svl/svl-upload/upload"
	"github.com/rpc-svl/svl-upload/upload/network"
	"github.com/rpc-svl/svl-upload/upload/sessionstore"
)

func main() {
	logger := log.NewLogger()
	if err := run(os.Args[1:], env.NewRepository(), logger); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			logger.Errorf("%s", err)
		}
		os.Exit(1)
	}
}

func run(args []string, envRepo env.Repository, logger log.Logger) error {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(envRepo)
	if err != nil {
		return err
	}
	logger.EnableDebugLog(cfg.Verbose || opts.verbose)
	cfg.Print(logger)

	client, err := network.NewClient(network.ClientParams{
		BaseURL:        cfg.APIURL,
		Token:          string(cfg.AccessToken),
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	submitter := upload.NewMetadataSubmitter(client, logger)
	if opts.catalog != "" {
		for _, entry := range submitter.Catalog(ctx, network.CatalogKind(opts.catalog)) {
			fmt.Println(entry)
		}
		return nil
	}

	store, err := sessionstore.Open(sessionstore.Kind(cfg.SessionStore), cfg.SessionStorePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warnf("Failed to close session store: %s", err)
		}
	}()

	tracker := analytics.NewUploadTracker(envRepo, analytics.NewBeaconFactory(cfg.EventsURL, logger))
	defer tracker.Wait()

	manager := upload.NewManager(client, store, tracker, managerOptions(cfg), logger)

	ctrl := newController(cancel, logger)
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signals)
	go func() {
		for sig := range signals {
			ctrl.handle(sig)
		}
	}()

	files := expandPaths(opts.paths, pathutil.NewPathModifier(), logger)
	if len(files) == 0 {
		return errors.New("no file to upload")
	}

	b := batch{
		opts:      opts,
		manager:   manager,
		submitter: submitter,
		ctrl:      ctrl,
		logger:    logger,
	}
	return b.run(ctx, files)
}

type batch struct {
	opts      options
	manager   *upload.Manager
	submitter *upload.MetadataSubmitter
	ctrl      *controller
	logger    log.Logger
}

func (b batch) run(ctx context.Context, files []string) error {
	var failed int
	for i, path := range files {
		if ctx.Err() != nil {
			b.logger.Warnf("Skipping %d remaining file(s)", len(files)-i)
			failed += len(files) - i
			break
		}

		fmt.Println()
		b.logger.Infof("(%d/%d) %s", i+1, len(files), path)
		if err := b.uploadOne(ctx, path); err != nil {
			b.report(path, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) were not uploaded", failed, len(files))
	}
	return nil
}

func (b batch) uploadOne(ctx context.Context, path string) error {
	listener := logListener{name: filepath.Base(path), logger: b.logger}

	var result *upload.Result
	var err error
	if b.opts.finalizeOnly {
		result, err = b.manager.Finalize(ctx, path, listener)
	} else {
		u := b.manager.NewUpload(path, listener)
		b.ctrl.track(u)
		result, err = u.Run(ctx)
		b.ctrl.track(nil)
	}
	if err != nil {
		return err
	}

	b.logger.Donef("%s: video %s", result.Filename, result.VideoID)
	if result.Prefill != nil {
		b.logger.Printf("The library already knows this video as %q", result.Prefill.Title)
	}

	if !b.opts.wantsMetadata() {
		return nil
	}
	response, err := b.submitter.Submit(ctx, result, b.opts.metadataInput(result))
	if err != nil {
		return err
	}
	b.logger.Debugf("Metadata stored for video %s", response.VideoID)
	return nil
}

func (b batch) report(path string, err error) {
	name := filepath.Base(path)

	var validationErr *upload.ValidationError
	var exhaustedErr *upload.ChunkExhaustedError
	var finalizeErr *upload.FinalizeError
	switch {
	case errors.Is(err, upload.ErrCancelled):
		b.logger.Warnf("%s: cancelled, run the same command again to resume", name)
	case errors.As(err, &validationErr):
		b.logger.Errorf("%s: %s", name, validationErr.Reason)
	case errors.As(err, &exhaustedErr):
		b.logger.Errorf("%s: %s", name, err)
		b.logger.Printf("Every chunk before the failed one is saved, run the same command again to resume")
	case errors.As(err, &finalizeErr):
		b.logger.Errorf("%s: %s", name, err)
		b.logger.Printf("All chunks are uploaded, retry with -finalize-only")
	case errors.Is(err, upload.ErrNoSession):
		b.logger.Errorf("%s: %s", name, err)
	default:
		b.logger.Errorf("%s: upload failed: %s", name, err)
	}
}
