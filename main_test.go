package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// a fake repository serving `routes` (path => body), counting every request made.
// unknown paths are a 404.
func fake_repository(t *testing.T, routes map[string]string) (*httptest.Server, *atomic.Int32) {
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, present := routes[r.URL.Path]
		if !present {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

// a plain client without caching.
func test_state() {
	STATE = &State{Client: &http.Client{}}
}

func listing(folder_list ...string) string {
	html := "<html><head><title>Index of /online/qtsdkrepository/windows_x86/desktop</title></head><body>\n"
	html += `<a href="../">Parent Directory</a>` + "\n"
	for _, folder := range folder_list {
		html += `<a href="` + folder + `">` + folder + "</a>\n"
	}
	return html + "</body></html>"
}

func manifest(update_list ...PackageUpdate) string {
	xml := "<Updates>\n <ApplicationName>{AnyApplication}</ApplicationName>\n"
	for _, update := range update_list {
		xml += " <PackageUpdate>\n"
		xml += "  <Name>" + update.Name + "</Name>\n"
		xml += "  <Version>" + update.Version + "</Version>\n"
		xml += " </PackageUpdate>\n"
	}
	return xml + "</Updates>"
}

// returns the three output paths within a fresh temporary directory.
func output_paths(t *testing.T) (string, string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "links.json"), filepath.Join(dir, "info.json"), filepath.Join(dir, "result.md")
}

func slurp(t *testing.T, path string) string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func Test_run(t *testing.T) {
	srv, _ := fake_repository(t, map[string]string{
		"/": listing("qt5_5121/", "tools_qtcreator/"),
		"/qt5_5121/Updates.xml": manifest(
			PackageUpdate{"qt.qt5.5121.win64_msvc2019_64", "5.12.1-0-202001010000"},
			PackageUpdate{"qt.qt5.5121.qtcharts", "not-a-version"},
		),
	})
	links_file, info_file, result_file := output_paths(t)

	err := run(context.Background(), []string{
		"--links-file", links_file,
		"--info-file", info_file,
		"--result-file", result_file,
		"--base-url", srv.URL + "/",
	})
	require.NoError(t, err)

	expected_links := `{
    "5121": "` + srv.URL + `/qt5_5121/Updates.xml"
}`
	assert.Equal(t, expected_links, slurp(t, links_file))

	expected_info := `{
    "5.12.1": {
        "msvc": {
            "2019": {
                "64": "qt.qt5.5121.win64_msvc2019_64"
            }
        }
    }
}`
	assert.Equal(t, expected_info, slurp(t, info_file))

	expected_result := "\n## Qt 5.12.1\n\n" +
		"| Package name | Dev env | Version | Arch |\n" +
		"|:- |:- |:- |:- |\n" +
		"| qt.qt5.5121.win64_msvc2019_64    | msvc  | 2019 | 64     \n"
	assert.Equal(t, expected_result, slurp(t, result_file))
}

func Test_run__many_versions(t *testing.T) {
	routes := map[string]string{
		"/": listing("qt5_5100/", "qt6_600/", "qt5_51210/"),
		"/qt5_5100/Updates.xml": manifest(
			PackageUpdate{"qt.qt5.5100.win64_msvc2015_64", "5.10.0-0-201712041208"},
			PackageUpdate{"qt.qt5.5100.win32_mingw53", "5.10.0-0-201712041208"},
		),
		"/qt6_600/Updates.xml": manifest(
			PackageUpdate{"qt.qt6.600.win64_msvc2019_64", "6.0.0-0-202012051252"},
		),
		"/qt5_51210/Updates.xml": manifest(
			PackageUpdate{"qt.qt5.51210.win64_mingw73", "5.12.10-0-202011040843"},
		),
	}
	srv, _ := fake_repository(t, routes)

	info_by_jobs := map[int]string{}
	for _, jobs := range []int{1, 3} {
		links_file, info_file, result_file := output_paths(t)
		err := run(context.Background(), []string{
			"--links-file", links_file,
			"--info-file", info_file,
			"--result-file", result_file,
			"--base-url", srv.URL + "/",
			"--jobs", strconv.Itoa(jobs),
		})
		require.NoError(t, err)

		links := slurp(t, links_file)
		link_keys := []string{}
		gjson.Parse(links).ForEach(func(key, _ gjson.Result) bool {
			link_keys = append(link_keys, key.String())
			return true
		})
		assert.Equal(t, []string{"5100", "600", "51210"}, link_keys, "links are in discovery order")

		info := slurp(t, info_file)
		version_keys := []string{}
		gjson.Parse(info).ForEach(func(key, _ gjson.Result) bool {
			version_keys = append(version_keys, key.String())
			return true
		})
		assert.Equal(t, []string{"6.0.0", "5.12.10", "5.10.0"}, version_keys, "versions are newest first")
		assert.Equal(t, "qt.qt5.5100.win32_mingw53", gjson.Get(info, `5\.10\.0.mingw.53.32`).String())
		assert.Equal(t, "qt.qt5.51210.win64_mingw73", gjson.Get(info, `5\.12\.10.mingw.73.64`).String())

		info_by_jobs[jobs] = info
	}
	assert.Equal(t, info_by_jobs[1], info_by_jobs[3])
}

func Test_run__same_paths(t *testing.T) {
	srv, hits := fake_repository(t, map[string]string{"/": listing()})
	links_file, _, result_file := output_paths(t)

	// the same file, spelled differently
	same_file := filepath.Join(filepath.Dir(links_file), "subdir", "..", "links.json")

	err := run(context.Background(), []string{
		"--links-file", links_file,
		"--info-file", same_file,
		"--result-file", result_file,
		"--base-url", srv.URL + "/",
	})
	assert.ErrorIs(t, err, ErrSamePaths)
	assert.Equal(t, int32(0), hits.Load())
	assert.False(t, path_exists(links_file))
	assert.False(t, path_exists(result_file))
}

func Test_run__file_exists(t *testing.T) {
	srv, hits := fake_repository(t, map[string]string{"/": listing()})
	links_file, info_file, result_file := output_paths(t)
	require.NoError(t, os.WriteFile(info_file, []byte("precious"), 0644))

	err := run(context.Background(), []string{
		"--links-file", links_file,
		"--info-file", info_file,
		"--result-file", result_file,
		"--base-url", srv.URL + "/",
	})
	assert.ErrorIs(t, err, ErrFileExists)
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, "precious", slurp(t, info_file))
	assert.False(t, path_exists(links_file))
}

func Test_run__failures_write_nothing(t *testing.T) {
	cases := map[string]struct {
		routes   map[string]string
		expected error
	}{
		"missing manifest": {
			routes:   map[string]string{"/": listing("qt5_5121/")},
			expected: ErrUnexpectedResponse,
		},
		"malformed manifest": {
			routes: map[string]string{
				"/":                     listing("qt5_5121/"),
				"/qt5_5121/Updates.xml": "<Packages><PackageUpdate/></Packages>",
			},
			expected: ErrBadManifest,
		},
		"bad version": {
			routes: map[string]string{
				"/":                     listing("qt5_5121/"),
				"/qt5_5121/Updates.xml": manifest(PackageUpdate{"qt.qt5.5121.win64_msvc2017_64", "5.12.1"}),
			},
			expected: ErrBadVersion,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := fake_repository(t, c.routes)
			links_file, info_file, result_file := output_paths(t)
			err := run(context.Background(), []string{
				"--links-file", links_file,
				"--info-file", info_file,
				"--result-file", result_file,
				"--base-url", srv.URL + "/",
			})
			assert.ErrorIs(t, err, c.expected)
			for _, path := range []string{links_file, info_file, result_file} {
				assert.False(t, path_exists(path), path)
			}
		})
	}
}

func Test_parse_args(t *testing.T) {
	links_file, info_file, result_file := output_paths(t)

	args, err := parse_args([]string{
		"--links-file", links_file,
		"--info-file", info_file,
		"--result-file", result_file,
		"--jobs", "4",
		"--log-level", "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, links_file, args.LinksFile)
	assert.Equal(t, DEFAULT_BASE_URL, args.BaseURL)
	assert.Equal(t, 4, args.Jobs)
	assert.Equal(t, "DEBUG", args.LogLevel.String())
	assert.True(t, filepath.IsAbs(args.ResultFile))
}

func Test_parse_args__base_url_env(t *testing.T) {
	t.Setenv("QT_CATALOGUE_BASE_URL", "http://mirror.example.org/desktop/")
	links_file, info_file, result_file := output_paths(t)

	args, err := parse_args([]string{"--links-file", links_file, "--info-file", info_file, "--result-file", result_file})
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.example.org/desktop/", args.BaseURL)

	args, err = parse_args([]string{"--links-file", links_file, "--info-file", info_file, "--result-file", result_file, "--base-url", "http://other.example.org/"})
	require.NoError(t, err)
	assert.Equal(t, "http://other.example.org/", args.BaseURL)
}

func Test_parse_args__bad(t *testing.T) {
	links_file, info_file, result_file := output_paths(t)
	cases := map[string][]string{
		"no links file":  {"--info-file", info_file, "--result-file", result_file},
		"no info file":   {"--links-file", links_file, "--result-file", result_file},
		"no result file": {"--links-file", links_file, "--info-file", info_file},
		"zero jobs":      {"--links-file", links_file, "--info-file", info_file, "--result-file", result_file, "--jobs", "0"},
		"bad log level":  {"--links-file", links_file, "--info-file", info_file, "--result-file", result_file, "--log-level", "loud"},
		"unknown flag":   {"--links-file", links_file, "--info-file", info_file, "--result-file", result_file, "--foo"},
	}
	for given, arg_list := range cases {
		_, err := parse_args(arg_list)
		assert.Error(t, err, given)
	}

	_, err := parse_args(cases["no info file"])
	assert.ErrorIs(t, err, ErrMissingFlag)
}

func Test_write_outputs(t *testing.T) {
	links_file, info_file, result_file := output_paths(t)
	args := Args{LinksFile: links_file, InfoFile: info_file, ResultFile: result_file}

	// the result file appears after the checks but before it is written
	require.NoError(t, os.WriteFile(result_file, []byte("late"), 0644))

	err := write_outputs(args, []byte("{}"), []byte("{}"), "")
	assert.Error(t, err)
	assert.False(t, path_exists(links_file))
	assert.False(t, path_exists(info_file))
	assert.Equal(t, "late", slurp(t, result_file))
}
