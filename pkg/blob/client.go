// Package blob is a thin client for the avatar object store: upload
// bytes under a path, get back a public URL.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Handle refers to an uploaded object.
type Handle struct {
	Path string
}

// Client uploads objects over HTTP.
type Client struct {
	endpoint string
	hc       *http.Client
	maxSize  int64
}

// New builds a client. maxSize caps upload payloads client-side;
// zero means no cap.
func New(endpoint string, maxSize int64) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		hc:       &http.Client{Timeout: 30 * time.Second},
		maxSize:  maxSize,
	}
}

// Upload stores data at path and returns its handle.
func (c *Client) Upload(ctx context.Context, path string, data []byte) (Handle, error) {
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return Handle{}, fmt.Errorf("blob: payload of %d bytes exceeds the %d byte limit", len(data), c.maxSize)
	}
	u := c.endpoint + "/" + escapePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return Handle{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	res, err := c.hc.Do(req)
	if err != nil {
		return Handle{}, fmt.Errorf("blob: upload %s: %w", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return Handle{}, fmt.Errorf("blob: upload %s: status %d", path, res.StatusCode)
	}
	return Handle{Path: path}, nil
}

// PublicURL derives the readable URL for an uploaded object.
func (c *Client) PublicURL(h Handle) string {
	return c.endpoint + "/" + escapePath(h.Path)
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
