// Package fetch reads model files from disk or over HTTP.
package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/teslashibe/go-live2d/internal/httpc"
)

// Fetcher returns the bytes at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTP fetches http(s) URLs with the shared client.
var HTTP = FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
	data, err := httpc.GetBytes(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return data, nil
})

// File reads local paths. A file:// prefix is accepted.
var File = FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return data, nil
})

// Auto dispatches on the URL scheme: http(s) goes to HTTP, everything
// else to File.
var Auto = FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
	if IsRemote(url) {
		return HTTP(ctx, url)
	}
	return File(ctx, url)
})

// IsRemote reports whether url needs the HTTP fetcher.
func IsRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

// Map serves fixed contents keyed by URL. Missing keys fail with
// os.ErrNotExist.
type Map map[string][]byte

// Fetch implements Fetcher.
func (m Map) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m[url]
	if !ok {
		return nil, fmt.Errorf("fetch: %s: %w", url, os.ErrNotExist)
	}
	return data, nil
}
