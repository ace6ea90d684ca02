package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"os"
	"path/filepath"
)

type ResponseWrapper struct {
	*http.Response
	Text string
}

// returns a path like "/cache/dir/711f20df1f76da140218e51445a6fc47"
func CachePath(cache_dir, cache_key string) string {
	return filepath.Join(cache_dir, cache_key)
}

// creates a key that is unique to the given `http.Request` URL (including query parameters),
// hashed to an MD5 string.
// the result can be safely used as a filename.
func MakeCacheKey(r *http.Request) string {
	// inconsistent case and url params etc will cause cache misses
	key := r.URL.String()
	md5sum := md5.Sum([]byte(key))
	return hex.EncodeToString(md5sum[:])
}

// reads the cached response as if it were the result of `httputil.DumpResponse`,
// a status code, followed by a series of headers, followed by the response body.
func ReadCacheEntry(cache_path string, req *http.Request) (*http.Response, error) {
	data, err := os.ReadFile(cache_path)
	if err != nil {
		return nil, err
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
}

// a `http.RoundTripper` that stores successful responses on disk in `Dir`
// and replays them on subsequent requests for the same URL.
type FileCachingRequest struct {
	Dir       string
	Transport http.RoundTripper
}

func (x FileCachingRequest) transport() http.RoundTripper {
	if x.Transport == nil {
		return http.DefaultTransport
	}
	return x.Transport
}

func (x FileCachingRequest) RoundTrip(req *http.Request) (*http.Response, error) {
	cache_key := MakeCacheKey(req)
	cache_path := CachePath(x.Dir, cache_key)
	cached_resp, err := ReadCacheEntry(cache_path, req)
	if err == nil {
		slog.Debug("cache HIT", "url", req.URL, "cache-path", cache_path)
		return cached_resp, nil
	}

	slog.Debug("cache MISS", "url", req.URL, "cache-path", cache_path, "error", err)

	resp, err := x.transport().RoundTrip(req)
	if err != nil {
		// do not cache error response, pass through
		slog.Error("error with transport, pass through", "error", err)
		return resp, err
	}

	if resp.StatusCode != http.StatusOK {
		// non-200 response, pass through
		slog.Debug("non-200 response, pass through", "code", resp.StatusCode)
		return resp, nil
	}

	dumped_bytes, err := httputil.DumpResponse(resp, true)
	if err != nil {
		slog.Warn("failed to dump response to bytes", "error", err)
		return resp, nil
	}

	err = os.WriteFile(cache_path, dumped_bytes, 0644)
	if err != nil {
		slog.Warn("failed to write all bytes in response to cache file", "error", err)
		return resp, nil
	}

	cached_resp, err = ReadCacheEntry(cache_path, req)
	if err != nil {
		slog.Warn("failed to read cache file", "error", err)
		return resp, nil
	}
	resp.Body.Close()
	return cached_resp, nil
}

// client trace to log whether the request's underlying tcp connection was re-used
func trace_context(ctx context.Context) context.Context {
	client_tracer := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			slog.Debug("HTTP connection reuse", "reused", info.Reused, "remote", info.Conn.RemoteAddr())
		},
	}
	return httptrace.WithClientTrace(ctx, client_tracer)
}

func download(ctx context.Context, url string, headers map[string]string) (ResponseWrapper, error) {
	slog.Debug("HTTP GET", "url", url)
	empty_response := ResponseWrapper{}

	// ---

	req, err := http.NewRequestWithContext(trace_context(ctx), http.MethodGet, url, nil)
	if err != nil {
		return empty_response, fmt.Errorf("failed to create request: %w", err)
	}
	for header, header_val := range headers {
		req.Header.Set(header, header_val)
	}

	// ---

	client := STATE.Client
	resp, err := client.Do(req)
	if err != nil {
		return empty_response, fmt.Errorf("failed to fetch '%s': %w", url, err)
	}
	defer resp.Body.Close()

	// ---

	content_bytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return empty_response, fmt.Errorf("failed to read response body: %w", err)
	}

	return ResponseWrapper{
		Response: resp,
		Text:     string(content_bytes),
	}, nil
}

// just like `download` but any response other than a 200 is an error.
func download_ok(ctx context.Context, url string) (ResponseWrapper, error) {
	resp, err := download(ctx, url, nil)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return ResponseWrapper{}, fmt.Errorf("%w: '%s' responded %d", ErrUnexpectedResponse, url, resp.StatusCode)
	}
	return resp, nil
}
