// Package tileclient fetches descriptors and tiles from a tilestreamd server.
// Client implements tilecache.Fetcher.
package tileclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"tilestream/internal/tilecodec"
	"tilestream/pkg/types"
)

// ErrNotFound is returned for tiles or images the server does not have.
var ErrNotFound = errors.New("not found")

// maxTileBytes bounds a single tile response.
const maxTileBytes = 64 << 20

// FetchError reports a failed tile fetch after retries. The cache treats it
// as transient and re-requests the tile later.
type FetchError struct {
	ID     types.TileID
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.ID, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// statusError is a non-2xx reply.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return http.StatusText(e.code)
}

func (e *statusError) Unwrap() error {
	if e.code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type Options struct {
	HTTPClient *http.Client
	// Retries is the number of retries after the first attempt for
	// transient failures (network errors, 5xx, 429).
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          zerolog.Logger
}

type Client struct {
	base string
	hc   *http.Client
	opts Options
	log  zerolog.Logger
}

func New(baseURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 100 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: opts.HTTPClient, opts: opts, log: opts.Logger}
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.Retries)), ctx)
}

// Fetch downloads and decodes one tile.
func (c *Client) Fetch(ctx context.Context, id types.TileID) (*types.TileBuffer, error) {
	path := fmt.Sprintf("/images/%s/tiles/%d/%d/%d", url.PathEscape(id.ImageID), id.Level, id.X, id.Y)
	var buf *types.TileBuffer
	err := c.retry(ctx, path, func(body []byte) error {
		b, err := tilecodec.Decode(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		buf = b
		return nil
	})
	if err != nil {
		fe := &FetchError{ID: id, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			fe.Status = se.code
		}
		return nil, fe
	}
	return buf, nil
}

// Descriptor fetches the metadata of one image.
func (c *Client) Descriptor(ctx context.Context, imageID string) (types.ImageDescriptor, error) {
	var d types.ImageDescriptor
	err := c.retry(ctx, "/images/"+url.PathEscape(imageID), func(body []byte) error {
		if err := json.Unmarshal(body, &d); err != nil {
			return backoff.Permanent(fmt.Errorf("decode descriptor: %w", err))
		}
		return nil
	})
	if err != nil {
		return d, fmt.Errorf("image %s: %w", imageID, err)
	}
	return d, nil
}

// ListImages fetches every committed image.
func (c *Client) ListImages(ctx context.Context) ([]types.ImageDescriptor, error) {
	var resp types.ImagesResponse
	err := c.retry(ctx, "/images", func(body []byte) error {
		if err := json.Unmarshal(body, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decode images: %w", err))
		}
		return nil
	})
	return resp.Images, err
}

// retry GETs path until handle accepts the body, a permanent error occurs,
// retries run out or ctx ends.
func (c *Client) retry(ctx context.Context, path string, handle func([]byte) error) error {
	attempt := 0
	op := func() error {
		attempt++
		body, err := c.get(ctx, path)
		if err != nil {
			return err
		}
		return handle(body)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Str("path", path).Int("attempt", attempt).Dur("wait", wait).Msg("retrying")
	}
	return backoff.RetryNotify(op, c.backOff(ctx), notify)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &statusError{code: resp.StatusCode, msg: errorMessage(resp.StatusCode, body)}
	default:
		return nil, backoff.Permanent(&statusError{code: resp.StatusCode, msg: errorMessage(resp.StatusCode, body)})
	}
}

func errorMessage(code int, body []byte) string {
	var er types.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strconv.Itoa(code) + " " + http.StatusText(code)
}
