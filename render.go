package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/links.schema.json
var links_schema_json string

//go:embed schema/info.schema.json
var info_schema_json string

var LINKS_SCHEMA = jsonschema.MustCompileString("links.schema.json", links_schema_json)
var INFO_SCHEMA = jsonschema.MustCompileString("info.schema.json", info_schema_json)

const TABLE_HEADER = "| Package name | Dev env | Version | Arch |"
const TABLE_ALIGNMENT = "|:- |:- |:- |:- |"

// columns are padded but never truncated.
// there is no closing pipe, just a trailing space.
const TABLE_ROW = "| %-32s | %-5s | %-4s | %-6s "

// serialises `thing` as JSON indented with four spaces and without a trailing newline.
func render_json(thing any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "    ")
	err := encoder.Encode(thing)
	if err != nil {
		return nil, fmt.Errorf("failed to coerce to json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// validates a rendered JSON document against `schema`.
func validate_json(schema *jsonschema.Schema, data []byte) error {
	var doc any
	err := json.Unmarshal(data, &doc)
	if err != nil {
		return fmt.Errorf("failed to parse rendered json: %w", err)
	}
	err = schema.Validate(doc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	return nil
}

func render_links(link_map *LinkMap) ([]byte, error) {
	data, err := render_json(link_map)
	if err != nil {
		return nil, err
	}
	return data, validate_json(LINKS_SCHEMA, data)
}

func render_info(tree *AggregationTree) ([]byte, error) {
	data, err := render_json(tree)
	if err != nil {
		return nil, err
	}
	return data, validate_json(INFO_SCHEMA, data)
}

// renders a markdown table per version in `tree`, in tree order.
// each section begins and ends with an empty line:
//
//	<empty>
//	## Qt 5.12.1
//	<empty>
//	| Package name | Dev env | Version | Arch |
//	|:- |:- |:- |:- |
//	| qt.qt5.5121.win64_msvc2019_64    | msvc  | 2019 | 64
//	<empty>
func render_markdown(label string, tree *AggregationTree) string {
	var sb strings.Builder
	for _, version := range tree.Versions() {
		line_list := []string{
			"",
			fmt.Sprintf("## %s %s", label, version),
			"",
			TABLE_HEADER,
			TABLE_ALIGNMENT,
		}
		for _, leaf := range tree.Leaves(version) {
			line_list = append(line_list, fmt.Sprintf(TABLE_ROW, leaf.PackageName, leaf.Toolchain, leaf.ToolchainVersion, leaf.Arch))
		}
		line_list = append(line_list, "")
		sb.WriteString(strings.Join(line_list, "\n"))
	}
	return sb.String()
}

// writes `data` to a new file at `path`.
// fails if anything already exists at `path`.
func write_new_file(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	_, err = fh.Write(data)
	if err != nil {
		fh.Close()
		return fmt.Errorf("failed to write file '%s': %w", path, err)
	}
	return fh.Close()
}
