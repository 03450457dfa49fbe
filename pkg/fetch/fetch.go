// Package fetch downloads repository resources over http(s), from local
// directories (file://) and from S3 buckets (s3://), with per-request
// timeouts and retries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
	"github.com/e2llm/rpmrepo-snapshot/pkg/metrics"
)

// Fetcher retrieves the full body of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Options configures a Client. Zero durations pick the defaults below;
// Retries is taken as is.
type Options struct {
	HTTPClient *http.Client
	// Timeout bounds a single attempt, not the whole retry sequence.
	Timeout    time.Duration
	Retries    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	S3Endpoint string
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

const (
	DefaultTimeout   = 2 * time.Minute
	DefaultRetries   = 3
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// Client is the Fetcher used in production.
type Client struct {
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics
	local   *backend.FSBackend

	mu        sync.Mutex
	s3Buckets map[string]backend.Backend
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		opts:      opts,
		log:       logger.WithField("component", "fetch"),
		metrics:   opts.Metrics,
		local:     backend.NewFSBackend("/"),
		s3Buckets: make(map[string]backend.Backend),
	}
}

// Fetch downloads rawURL, retrying transient failures with exponential backoff.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	scheme := u.Scheme
	bo := newBackoff(c.opts.BaseDelay, c.opts.MaxDelay, uint(c.opts.Retries))
	for {
		c.metrics.Fetches.WithLabelValues(scheme).Inc()
		data, err := c.fetchOnce(ctx, u)
		if err == nil {
			c.metrics.FetchedBytes.Add(float64(len(data)))
			return data, nil
		}
		if !retryable(ctx, err) {
			c.metrics.FetchFailures.WithLabelValues(scheme).Inc()
			return nil, err
		}
		if waitErr := bo.Wait(ctx); waitErr != nil {
			c.metrics.FetchFailures.WithLabelValues(scheme).Inc()
			if errors.Is(waitErr, ErrMaxRetries) {
				return nil, fmt.Errorf("%w (gave up after %d retries)", err, c.opts.Retries)
			}
			return nil, err
		}
		c.metrics.FetchRetries.WithLabelValues(scheme).Inc()
		c.log.WithError(err).WithField("url", rawURL).Debug("retrying fetch")
	}
}

func (c *Client) fetchOnce(parent context.Context, u *url.URL) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, c.opts.Timeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return c.fetchHTTP(ctx, u.String())
	case "file":
		data, err := c.local.ReadFile(ctx, u.Path)
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
		}
		return data, err
	case "s3":
		b, err := c.bucket(ctx, u.Host)
		if err != nil {
			return nil, err
		}
		data, err := b.ReadFile(ctx, strings.TrimPrefix(u.Path, "/"))
		if errors.Is(err, backend.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
		}
		return data, err
	default:
		return nil, fmt.Errorf("%s: %w: unsupported scheme %q", u, ErrNotFound, u.Scheme)
	}
}

func (c *Client) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", rawURL, err)
	}
	if resp.ContentLength > 0 && int64(len(data)) != resp.ContentLength {
		return nil, fmt.Errorf("GET %s: %w: got %d of %d bytes", rawURL, io.ErrUnexpectedEOF, len(data), resp.ContentLength)
	}
	return data, nil
}

// bucket returns a cached S3 backend for the bucket.
func (c *Client) bucket(ctx context.Context, name string) (backend.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.s3Buckets[name]; ok {
		return b, nil
	}
	b, err := backend.NewS3Backend(ctx, "s3://"+name, c.opts.S3Endpoint)
	if err != nil {
		return nil, err
	}
	c.s3Buckets[name] = b
	return b, nil
}
