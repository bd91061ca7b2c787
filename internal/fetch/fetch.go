// Package fetch retrieves a design image by URL under size, timeout, and
// content-type constraints.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/printforge/mockupcore/pkg/pixelimg"
)

// ErrKind enumerates the distinct, testable fetch error kinds.
type ErrKind string

const (
	ErrInvalidURL      ErrKind = "INVALID_URL"
	ErrTimeout         ErrKind = "TIMEOUT"
	ErrHTTPStatus      ErrKind = "HTTP_STATUS"
	ErrTooLarge        ErrKind = "TOO_LARGE"
	ErrUnsupportedType ErrKind = "UNSUPPORTED_TYPE"
	ErrDecodeFailed    ErrKind = "DECODE_FAILED"
)

// FetchError carries the kind plus context (HTTP status code, when
// relevant) for the response-layer status mapping.
type FetchError struct {
	Kind       ErrKind
	StatusCode int
	Msg        string
}

func (e *FetchError) Error() string { return e.Msg }

func errKind(kind ErrKind, format string, args ...interface{}) error {
	return &FetchError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

const maxDimension = 8192

var supportedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Fetcher retrieves and decodes design images.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher bounded by maxBytes and timeout. The timeout is
// clamped to 5s to keep a single slow design from tying up a worker.
func New(maxBytes int64, timeout time.Duration) *Fetcher {
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch retrieves and decodes the design image at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*pixelimg.Image, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errKind(ErrInvalidURL, "invalid design url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errKind(ErrInvalidURL, "invalid design url %q: %v", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, errKind(ErrTimeout, "timed out fetching design: %v", err)
		}
		return nil, errKind(ErrInvalidURL, "failed to fetch design: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: ErrHTTPStatus, StatusCode: resp.StatusCode, Msg: fmt.Sprintf("design fetch returned HTTP %d", resp.StatusCode)}
	}

	contentType := normalizeContentType(resp.Header.Get("Content-Type"))
	if !supportedContentTypes[contentType] {
		return nil, errKind(ErrUnsupportedType, "unsupported design content type %q", contentType)
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errKind(ErrTimeout, "failed reading design body: %v", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, errKind(ErrTooLarge, "design exceeds %d byte limit", f.maxBytes)
	}

	img, err := pixelimg.Decode(bytes.NewReader(data), contentType)
	if err != nil {
		return nil, errKind(ErrDecodeFailed, "failed to decode design: %v", err)
	}
	if img.Width <= 0 || img.Height <= 0 || img.Width > maxDimension || img.Height > maxDimension {
		return nil, errKind(ErrDecodeFailed, "design dimensions %dx%d out of bounds", img.Width, img.Height)
	}

	return img, nil
}

func normalizeContentType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}
