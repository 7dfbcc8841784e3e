// Package sidecar is a REST client for a Substrate API sidecar: blocks,
// account balances, transaction material and transaction submission.
//
// Reads are retried on transient failure (transport errors, 429 and 5xx)
// with a linear backoff; submissions are never retried, since resending a
// signed extrinsic with a stale nonce can only fail or duplicate it.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Klingon-tech/proxyguard/internal/log"
	"github.com/Klingon-tech/proxyguard/internal/metrics"
	"github.com/avast/retry-go"
)

// Defaults for the retry policy: the initial request plus three retries,
// sleeping 2s, 4s and 6s in between.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryAttempts = 4
	DefaultRetryBase     = 2 * time.Second
)

// HTTPError is a failed sidecar request, reported after retries are exhausted.
// Status is zero when the request never got a response.
type HTTPError struct {
	Method     string
	URL        string
	Status     int
	StatusText string
	// Cause is the sidecar's error message, when the body carried one.
	Cause string
	Err   error
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sidecar %s %s", e.Method, e.URL)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": %s", e.StatusText)
	}
	if e.Cause != "" {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Transient reports whether the request may succeed if retried.
func (e *HTTPError) Transient() bool {
	if e.Status == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client is a sidecar REST client.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts uint
	base     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry sets the total number of attempts for reads and the backoff
// unit; attempt n sleeps n*base before retrying.
func WithRetry(attempts uint, base time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if base >= 0 {
			c.base = base
		}
	}
}

// New creates a client for the sidecar at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
		attempts: DefaultRetryAttempts,
		base:     DefaultRetryBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the sidecar base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetLatestBlock returns the head block.
func (c *Client) GetLatestBlock(ctx context.Context) (*Block, error) {
	var b Block
	if err := c.get(ctx, "/blocks/latest", "/blocks/latest", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBlock returns the block at height.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	var b Block
	if err := c.get(ctx, "/blocks/"+heightString(height), "/blocks/{n}", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBalanceInfo returns the nonce and balances of account. A zero at means
// the latest block.
func (c *Client) GetBalanceInfo(ctx context.Context, account string, at uint64) (*BalanceInfo, error) {
	uri := "/accounts/" + url.PathEscape(account) + "/balance-info"
	if at != 0 {
		uri += "?at=" + heightString(at)
	}
	var info BalanceInfo
	if err := c.get(ctx, uri, "/accounts/{a}/balance-info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTransactionMaterial returns the genesis hash, runtime versions and
// metadata needed to build a transaction. A zero at means the latest block;
// noMeta omits the metadata blob.
func (c *Client) GetTransactionMaterial(ctx context.Context, at uint64, noMeta bool) (*TransactionMaterial, error) {
	q := url.Values{}
	if at != 0 {
		q.Set("at", heightString(at))
	}
	if noMeta {
		q.Set("noMeta", "true")
	}
	uri := "/transaction/material"
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	var m TransactionMaterial
	if err := c.get(ctx, uri, "/transaction/material", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Submit posts a hex-encoded signed extrinsic. It is not retried.
func (c *Client) Submit(ctx context.Context, tx string) (*SubmitResult, error) {
	body, err := json.Marshal(map[string]string{"tx": tx})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var res SubmitResult
	if err := c.do(ctx, http.MethodPost, "/transaction", "/transaction", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) get(ctx context.Context, uri, route string, out interface{}) error {
	return retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, uri, route, nil, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.base),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.base * time.Duration(n+1)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var herr *HTTPError
			return errors.As(err, &herr) && herr.Transient()
		}),
		retry.OnRetry(func(n uint, err error) {
			metrics.SidecarRetry(route)
			log.Sidecar.Warn().
				Uint("attempt", n+1).
				Str("uri", uri).
				Err(err).
				Msg("Sidecar request failed, retrying")
		}),
	)
}

// errorBody is the sidecar's error response.
type errorBody struct {
	Error string          `json:"error"`
	Cause json.RawMessage `json:"cause"`
}

func (c *Client) do(ctx context.Context, method, uri, route string, body []byte, out interface{}) error {
	target := c.baseURL + uri

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &HTTPError{Method: method, URL: target, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SidecarRequest(method, route, 0, time.Since(start))
		return &HTTPError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()
	metrics.SidecarRequest(method, route, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HTTPError{Method: method, URL: target, Status: resp.StatusCode, StatusText: resp.Status, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Method: method, URL: target, Status: resp.StatusCode, StatusText: resp.Status}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			herr.Cause = eb.Error
			if len(eb.Cause) > 0 && string(eb.Cause) != "null" {
				herr.Cause = strings.TrimSpace(herr.Cause + " " + string(eb.Cause))
			}
		}
		return herr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", uri, err)
		}
	}
	log.Sidecar.Debug().Str("method", method).Str("uri", uri).Dur("took", time.Since(start)).Msg("Sidecar request")
	return nil
}
