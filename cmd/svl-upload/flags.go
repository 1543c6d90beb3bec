package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/rpc-svl/svl-upload/config"
	"github.com/rpc-svl/svl-upload/upload"
	"github.com/rpc-svl/svl-upload/upload/network"
)

const usage = `Usage: svl-upload [flags] <path|glob>...

Uploads every matching video to the surgical video library. Large files are uploaded
in resumable chunks: run the same command again to continue an interrupted upload.

Signals: SIGINT cancels the running upload (a second one exits), SIGUSR1 toggles pause.

Flags:
`

type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ", ")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type options struct {
	title       string
	description string
	category    string
	tags        stringList
	surgeons    stringList

	finalizeOnly bool
	catalog      string
	verbose      bool

	paths []string
}

func (o options) wantsMetadata() bool {
	return o.title != "" || o.description != "" || o.category != "" || len(o.tags) > 0 || len(o.surgeons) > 0
}

func (o options) metadataInput(result *upload.Result) upload.MetadataInput {
	input := upload.MetadataInput{
		Title:       o.title,
		Description: o.description,
		Category:    o.category,
		Tags:        o.tags,
		Surgeons:    o.surgeons,
	}
	if input.Title == "" && result.Prefill != nil {
		input.Title = result.Prefill.Title
	}
	if input.Title == "" {
		input.Title = upload.DefaultTitle(result.Filename)
	}
	return input
}

func parseArgs(args []string, output io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("svl-upload", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.title, "title", "", "title of the uploaded video, defaults to the file name")
	fs.StringVar(&opts.description, "description", "", "description of the uploaded video")
	fs.StringVar(&opts.category, "category", "", `category as "name" or "name : type"`)
	fs.Var(&opts.tags, "tag", `tag as "name" or "name : type", repeatable`)
	fs.Var(&opts.surgeons, "surgeon", `surgeon as "name" or "name : type", repeatable`)
	fs.BoolVar(&opts.finalizeOnly, "finalize-only", false, "only finalize the persisted sessions of the given files")
	fs.StringVar(&opts.catalog, "catalog", "", "print the known categories, tags or surgeons and exit")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logs (same as "+config.VerboseKey+"=true)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.paths = fs.Args()

	if opts.catalog != "" {
		switch network.CatalogKind(opts.catalog) {
		case network.CatalogCategories, network.CatalogTags, network.CatalogSurgeons:
			return opts, nil
		default:
			return options{}, fmt.Errorf("unknown catalog %q, use one of %s, %s, %s", opts.catalog,
				network.CatalogCategories, network.CatalogTags, network.CatalogSurgeons)
		}
	}
	if len(opts.paths) == 0 {
		fs.Usage()
		return options{}, errors.New("no file given")
	}
	return opts, nil
}

func managerOptions(cfg config.Config) upload.Options {
	options := upload.DefaultOptions()
	options.Limits = upload.Limits{
		ChunkedThreshold: cfg.ChunkedThreshold,
		MaxFileSize:      cfg.MaxFileSize,
	}
	options.ChunkSize = cfg.ChunkSize

	options.Chunks.Concurrency = cfg.ParallelChunks
	options.Chunks.MaxRetries = cfg.MaxRetries
	options.Chunks.BaseDelay = cfg.RetryBaseDelay
	options.Chunks.RequestTimeout = cfg.RequestTimeout
	options.Chunks.Sizing.Enabled = cfg.AdaptiveChunks
	options.Chunks.Sizing.Target = cfg.TargetChunkDuration
	options.Chunks.Sizing.MinChunkSize = cfg.MinChunkSize
	options.Chunks.Sizing.MaxChunkSize = cfg.MaxChunkSize

	return options
}
