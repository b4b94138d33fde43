// Package httpclient is the outbound JSON client used against the registry
// APIs. Every call is paced, bounded by a per-attempt timeout and retried by
// an explicit RetryPolicy, optionally rotating the egress IP in between.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
)

// DefaultUserAgent is sent with every registry request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/102.0.0.0 Safari/537.36"

const maxBodyBytes = 32 << 20

// ErrRetriesExhausted wraps the last failure once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// StatusError reports a non-2xx answer.
type StatusError struct {
	URL  string
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.Code, e.Body)
}

// Pacer delays a request until the target host may be called again.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	UserAgent          string
	ProxyURL           string
	InsecureSkipVerify bool
	Retry              RetryPolicy
	Rotator            Rotator
	Pacer              Pacer
	Logger             *zap.Logger
	// Transport overrides the transport built from ProxyURL and InsecureSkipVerify.
	Transport http.RoundTripper
}

// Client issues JSON requests with retries.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	retry     RetryPolicy
	rotator   Rotator
	pacer     Pacer
	pause     pauser
	logger    *zap.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	metrics.Init()
	transport := opts.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if opts.ProxyURL != "" {
			proxy, err := url.Parse(opts.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("parse proxy url: %w", err)
			}
			switch proxy.Scheme {
			case "http", "https", "socks5":
			default:
				return nil, fmt.Errorf("unsupported proxy scheme %q", proxy.Scheme)
			}
			base.Proxy = http.ProxyURL(proxy)
		}
		if opts.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // registry serves a broken chain
		}
		transport = base
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		retry:     opts.Retry,
		rotator:   opts.Rotator,
		pacer:     opts.Pacer,
		pause:     timerPauser{},
		logger:    logger.Named("httpclient"),
	}, nil
}

// RequestJSON sends body (JSON-encoded when non-nil) and decodes the answer
// into out. Failures are retried per the client's RetryPolicy; cancellation of
// ctx is returned at once.
func (c *Client) RequestJSON(ctx context.Context, method, rawURL string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, method, rawURL, payload, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, rawURL, ctx.Err())
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return fmt.Errorf("%w after %d attempt(s): %w", ErrRetriesExhausted, attempt, err)
		}

		delay := c.retry.Backoff()
		c.logger.Warn("registry request failed; retrying",
			zap.String("method", method),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		metrics.ObserveRetry(rawURL)
		c.pause.Pause(ctx, delay)
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, rawURL, ctx.Err())
		}
		if c.rotator != nil {
			if rerr := c.rotator.Rotate(ctx); rerr != nil {
				metrics.ObserveRotation(false)
				return fmt.Errorf("rotate egress ip after attempt %d: %w", attempt, rerr)
			}
			metrics.ObserveRotation(true)
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte, out any) error {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, rawURL); err != nil {
			return err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRegistryRequest(rawURL, 0)
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveRegistryRequest(rawURL, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: rawURL, Code: resp.StatusCode, Body: snippet(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
