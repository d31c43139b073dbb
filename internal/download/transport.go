package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Transport opens a remote resource for reading. size is -1 when unknown.
type Transport interface {
	Open(ctx context.Context, u *url.URL) (body io.ReadCloser, size int64, err error)
}

// HTTPTransport fetches http and https URLs.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates an HTTP transport. A nil client gets a default
// with a generous overall timeout; cancellation is driven by the context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTPTransport{client: client, userAgent: "keel"}
}

// WithUserAgent sets the User-Agent header.
func (t *HTTPTransport) WithUserAgent(ua string) *HTTPTransport {
	t.userAgent = ua
	return t
}

func (t *HTTPTransport) Open(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("performing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// FileTransport reads file:// URLs from the local filesystem.
type FileTransport struct{}

func (FileTransport) Open(_ context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", u.Path)
	}
	return f, info.Size(), nil
}
