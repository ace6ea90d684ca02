package main

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

var DEFAULT_BASE_URL = "https://download.qt.io/online/qtsdkrepository/windows_x86/desktop/"

var UPDATE_XML_FILENAME = "Updates.xml"

// version identifier => manifest url, in discovery order.
// "5121" => "https://.../qt5_5121/Updates.xml"
type LinkMap = orderedmap.OrderedMap[string, string]

// the root of a manifest
type Updates struct {
	XMLName           xml.Name        `xml:"Updates"`
	PackageUpdateList []PackageUpdate `xml:"PackageUpdate"`
}

// returns the text of each <a> element in an html document, in document order.
func anchor_text_list(r io.Reader) ([]string, error) {
	text_list := []string{}
	tokenizer := html.NewTokenizer(r)
	depth := 0
	var text strings.Builder
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			err := tokenizer.Err()
			if errors.Is(err, io.EOF) {
				return text_list, nil
			}
			return nil, err

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "a" {
				if depth == 0 {
					text.Reset()
				}
				depth++
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "a" && depth > 0 {
				depth--
				if depth == 0 {
					text_list = append(text_list, text.String())
				}
			}

		case html.TextToken:
			if depth > 0 {
				text.Write(tokenizer.Text())
			}
		}
	}
}

// "https://example.org/repo/" + "qt5_5121/" + "Updates.xml" => "https://example.org/repo/qt5_5121/Updates.xml"
func join_url(base string, ref_list ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", base, err)
	}
	for _, ref := range ref_list {
		r, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("failed to parse url %q: %w", ref, err)
		}
		u = u.ResolveReference(r)
	}
	return u.String(), nil
}

// fetches the repository listing at `base_url` and returns a map of each matching
// folder's version identifier to the url of its manifest.
// anchors that don't match a versioned folder are ignored.
func discover_links(ctx context.Context, base_url string, classifier *Classifier) (*LinkMap, error) {
	resp, err := download_ok(ctx, base_url)
	if err != nil {
		return nil, fmt.Errorf("failed to download repository listing: %w", err)
	}

	text_list, err := anchor_text_list(strings.NewReader(resp.Text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository listing as HTML: %w", err)
	}

	link_map := orderedmap.New[string, string]()
	for _, text := range text_list {
		version_id, ok := classifier.match_folder(text)
		if !ok {
			continue
		}
		manifest_url, err := join_url(base_url, text, UPDATE_XML_FILENAME)
		if err != nil {
			return nil, err
		}
		slog.Debug("discovered manifest", "version", version_id, "url", manifest_url)
		link_map.Set(version_id, manifest_url)
	}
	return link_map, nil
}

// parses a manifest document into its list of package updates.
func parse_manifest(data []byte) ([]PackageUpdate, error) {
	data, err := elide_bom(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel

	var updates Updates
	err = decoder.Decode(&updates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	return updates.PackageUpdateList, nil
}

func fetch_manifest(ctx context.Context, manifest_url string) ([]PackageUpdate, error) {
	resp, err := download_ok(ctx, manifest_url)
	if err != nil {
		return nil, fmt.Errorf("failed to download manifest: %w", err)
	}
	update_list, err := parse_manifest([]byte(resp.Text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest '%s': %w", manifest_url, err)
	}
	return update_list, nil
}

// fetches the manifest of every link in `link_map`, at most `jobs` at a time.
// results are returned in `link_map` order regardless of the order they complete in.
// the first failure cancels the rest.
func fetch_manifest_list(ctx context.Context, link_map *LinkMap, jobs int) ([][]PackageUpdate, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([][]PackageUpdate, link_map.Len())

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(jobs)

	position := 0
	for pair := link_map.Oldest(); pair != nil; pair = pair.Next() {
		i, version_id, manifest_url := position, pair.Key, pair.Value
		position++
		group.Go(func() error {
			slog.Info("fetching manifest", "version", version_id, "url", manifest_url)
			update_list, err := fetch_manifest(ctx, manifest_url)
			if err != nil {
				return err
			}
			slog.Debug("manifest fetched", "version", version_id, "num-updates", len(update_list))
			results[i] = update_list
			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// folds every recognised package update into a new tree.
// a later update at an existing path replaces the earlier package name.
func build_tree(classifier *Classifier, update_list []PackageUpdate) (*AggregationTree, error) {
	tree := NewAggregationTree()
	for _, update := range update_list {
		pkg, ok, err := classifier.classify(update)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		slog.Debug("classified package", "package", pkg.PackageName, "version", pkg.SemVer, "released", pkg.ReleaseDateTime)

		path := pkg.Path()
		previous, overwritten := tree.Insert(path, pkg.PackageName)
		if overwritten && previous != pkg.PackageName {
			slog.Warn("package replaced", "version", path.Version, "toolchain", path.Toolchain,
				"toolchain-version", path.ToolchainVersion, "arch", path.Arch, "previous", previous, "package", pkg.PackageName)
		}
	}
	return tree, nil
}
