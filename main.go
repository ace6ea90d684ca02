package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
)

type State struct {
	Client *http.Client
}

func NewState() *State {
	return &State{}
}

// parsed command line arguments
type Args struct {
	LinksFile  string
	InfoFile   string
	ResultFile string
	BaseURL    string
	CacheDir   string
	Jobs       int
	LogLevel   slog.Level
}

var (
	ErrMissingFlag        = errors.New("missing required flag")
	ErrSamePaths          = errors.New("don't specify the same files")
	ErrFileExists         = errors.New("file exists")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrBadManifest        = errors.New("bad manifest")
	ErrBadVersion         = errors.New("wrong version number")
	ErrInvalidOutput      = errors.New("output failed validation")
)

// -- globals

var STATE *State

var LOG_LEVEL = new(slog.LevelVar)

// the product whose toolchain packages are catalogued.
// used in folder and package name patterns and, title-cased, in the report headings.
var PRODUCT_PREFIX = "qt"

// --- config

// parses `arg_list`, resolves the output paths and checks they are distinct and don't exist yet.
// nothing touches the network before this succeeds.
func parse_args(arg_list []string) (Args, error) {
	args := Args{}
	flags := pflag.NewFlagSet("qt-repository-catalogue", pflag.ContinueOnError)

	base_url := DEFAULT_BASE_URL
	if val, present := os.LookupEnv("QT_CATALOGUE_BASE_URL"); present && val != "" {
		base_url = val
	}
	var log_level string

	flags.StringVar(&args.LinksFile, "links-file", "", "The output JSON file storing all Qt links.")
	flags.StringVar(&args.InfoFile, "info-file", "", "The output JSON file storing all Qt version info.")
	flags.StringVar(&args.ResultFile, "result-file", "", "The output Markdown file storing all human-readable Qt version info.")
	flags.StringVar(&args.BaseURL, "base-url", base_url, "The repository listing to scrape. Overrides $QT_CATALOGUE_BASE_URL.")
	flags.StringVar(&args.CacheDir, "cache-dir", "", "Cache HTTP responses in this directory.")
	flags.IntVar(&args.Jobs, "jobs", 1, "Number of manifests to fetch at once.")
	flags.StringVar(&log_level, "log-level", "info", "One of debug, info, warn or error.")

	err := flags.Parse(arg_list)
	if err != nil {
		return args, err
	}

	err = args.LogLevel.UnmarshalText([]byte(log_level))
	if err != nil {
		return args, fmt.Errorf("bad --log-level: %w", err)
	}

	if args.Jobs < 1 {
		return args, fmt.Errorf("--jobs must be at least 1, got %d", args.Jobs)
	}

	path_ptr_list := []*string{&args.LinksFile, &args.InfoFile, &args.ResultFile}
	for i, name := range []string{"links-file", "info-file", "result-file"} {
		if *path_ptr_list[i] == "" {
			return args, fmt.Errorf("%w: --%s", ErrMissingFlag, name)
		}
		abs_path, err := filepath.Abs(*path_ptr_list[i])
		if err != nil {
			return args, fmt.Errorf("failed to resolve --%s: %w", name, err)
		}
		*path_ptr_list[i] = abs_path
	}

	path_list := args.output_path_list()
	if len(unique(path_list)) != len(path_list) {
		return args, ErrSamePaths
	}

	for _, path := range path_list {
		if path_exists(path) {
			return args, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	}

	return args, nil
}

func (a Args) output_path_list() []string {
	return []string{a.LinksFile, a.InfoFile, a.ResultFile}
}

func init_state(args Args) (*State, error) {
	state := NewState()
	state.Client = &http.Client{}
	if args.CacheDir != "" {
		err := os.MkdirAll(args.CacheDir, 0755)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		state.Client.Transport = &FileCachingRequest{Dir: args.CacheDir}
	}
	return state, nil
}

// --- tasks

// writes each output file in order.
// if any write fails the files already written are removed.
func write_outputs(args Args, links, info []byte, result string) error {
	pair_list := []struct {
		path string
		data []byte
	}{
		{args.LinksFile, links},
		{args.InfoFile, info},
		{args.ResultFile, []byte(result)},
	}
	written := []string{}
	for _, pair := range pair_list {
		err := write_new_file(pair.path, pair.data)
		if err != nil {
			for _, path := range written {
				os.Remove(path)
			}
			return err
		}
		slog.Info("wrote file", "path", pair.path)
		written = append(written, pair.path)
	}
	return nil
}

// discovers every manifest, folds their packages into a tree, then writes the three reports.
// nothing is written unless everything succeeds.
func run(ctx context.Context, arg_list []string) error {
	args, err := parse_args(arg_list)
	if err != nil {
		return err
	}
	LOG_LEVEL.Set(args.LogLevel)

	STATE, err = init_state(args)
	if err != nil {
		return err
	}

	classifier := NewClassifier(PRODUCT_PREFIX)

	slog.Info("discovering manifests", "url", args.BaseURL)
	link_map, err := discover_links(ctx, args.BaseURL, classifier)
	if err != nil {
		return err
	}
	slog.Info("found manifests", "num", link_map.Len())

	manifest_list, err := fetch_manifest_list(ctx, link_map, args.Jobs)
	if err != nil {
		return err
	}

	tree, err := build_tree(classifier, flatten(manifest_list...))
	if err != nil {
		return err
	}

	sorted_tree, err := tree.Sorted()
	if err != nil {
		return err
	}
	slog.Info("versions catalogued", "num", len(sorted_tree.Versions()))

	links, err := render_links(link_map)
	if err != nil {
		return err
	}
	info, err := render_info(sorted_tree)
	if err != nil {
		return err
	}
	result := render_markdown(title_case(classifier.Prefix), sorted_tree)

	return write_outputs(args, links, info, result)
}

// --- bootstrap

func init() {
	if is_testing() {
		return
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: LOG_LEVEL})))
}

func main() {
	err := run(context.Background(), os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	die(err, "failed to build catalogue")
}
