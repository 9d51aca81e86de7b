// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torbox is a minimal client for the two TorBox account endpoints the
// automation engine consumes.
package torbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/boxrules/internal/buildinfo"
	"github.com/autobrr/boxrules/pkg/httphelpers"
)

const (
	DefaultBaseURL        = "https://api.torbox.app/v1/api"
	defaultRequestTimeout = 30 * time.Second
	defaultRateLimit      = 5
	defaultRetryAttempts  = 3
	defaultRetryDelay     = time.Second
)

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
}

type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter

	retryAttempts uint
	retryDelay    time.Duration
}

type OptFunc func(*Client)

func WithBaseURL(baseURL string) OptFunc {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) OptFunc {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) OptFunc {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit paces requests to perSecond. Zero or less disables pacing.
func WithRateLimit(perSecond float64) OptFunc {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetry sets how often retryable list requests are attempted in total.
func WithRetry(attempts uint, delay time.Duration) OptFunc {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		c.retryDelay = delay
	}
}

func NewClient(apiKey string, opts ...OptFunc) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		apiKey:    strings.TrimSpace(apiKey),
		userAgent: buildinfo.UserAgent,
		httpClient: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: sharedTransport,
		},
		limiter:       rate.NewLimiter(rate.Limit(defaultRateLimit), 1),
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListItems returns every torrent on the account, bypassing the server cache.
// Retryable failures are attempted again with backoff.
func (c *Client) ListItems(ctx context.Context) ([]Torrent, error) {
	var torrents []Torrent

	err := retry.Do(
		func() error {
			torrents = nil
			return c.doRequest(ctx, http.MethodGet, "/torrents/mylist?bypass_cache=true", nil, &torrents)
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Msg("torbox: retrying item listing")
		}),
	)
	if err != nil {
		return nil, err
	}

	if torrents == nil {
		torrents = []Torrent{}
	}
	return torrents, nil
}

// ControlItem issues one control operation. Control calls are never retried.
func (c *Client) ControlItem(ctx context.Context, operation string, id int64, all bool) error {
	body := controlRequest{TorrentID: id, Operation: operation, All: all}
	return c.doRequest(ctx, http.MethodPost, "/torrents/controltorrent", body, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, data any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait failed")
	}

	var reader *bytes.Reader
	if requestBody != nil {
		payload, err := json.Marshal(requestBody)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "torbox request aborted")
		}
		return &NetworkError{Err: err}
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}

	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: envelopeMessage(env)}
	}

	if data != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return errors.Wrapf(err, "failed to decode %s data", path)
		}
	}

	return nil
}

func parseError(resp *http.Response) error {
	body := httphelpers.ErrorBody(resp)

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err == nil {
		if msg := envelopeMessage(env); msg != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: body}
}

func envelopeMessage(env envelope) string {
	var parts []string
	if env.Error != nil && *env.Error != "" {
		parts = append(parts, *env.Error)
	}
	if env.Detail != "" {
		parts = append(parts, env.Detail)
	}
	return strings.Join(parts, ": ")
}
