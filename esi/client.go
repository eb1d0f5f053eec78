// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package esi is a client for EVE Online's ESI API.
//
// It hides the operational complexity of the API behind a single
// [Client.Request] call: requests travel over one or more multiplexed HTTP/2
// sessions that reconnect with backoff and queue requests across connection
// gaps; transient failures are retried under a time budget; entity tags from
// prior responses are replayed for conditional requests; and paginated
// endpoints are fetched concurrently and merged into one logical response.
package esi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// defaultMaxTime bounds the total wall time of one logical request across
// all of its retries.
const defaultMaxTime = 10 * time.Second

const defaultMaxRetries = 3

// defaultStripHeader lists response headers that are dropped before
// presentation: CORS and transport-security headers that are meaningful to
// browsers but noise to API consumers, and that would otherwise defeat the
// common-header intersection across pages.
var defaultStripHeader = []string{
	"access-control-allow-credentials",
	"access-control-allow-headers",
	"access-control-allow-methods",
	"access-control-allow-origin",
	"access-control-expose-headers",
	"access-control-max-age",
	"strict-transport-security",
}

// ClientOptions configures a [Client].
type ClientOptions struct {
	// Connection is a preconstructed connection to use. If nil, the client
	// creates its own from ConnectionSettings (and PoolSize).
	Connection *Connection

	// ConnectionSettings configures the connections the client creates.
	// Ignored when Connection is set.
	ConnectionSettings *ConnectionSettings

	// PoolSize is the number of connections to round-robin over, to exceed
	// the concurrent-stream limit of a single session. 0 or 1 means a single
	// connection. Ignored when Connection is set.
	PoolSize int

	// DefaultHeader is merged under every request's headers.
	DefaultHeader map[string]string

	// DefaultQuery is merged under every request's query parameters.
	DefaultQuery map[string]string

	// MaxTime bounds the total wall time of one logical request across
	// retries. 0 means the 10s default.
	MaxTime time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// 0 means the default of 3; negative disables retries.
	MaxRetries int

	// RetryDelayLow and RetryDelayHigh produce the backoff policies for
	// generic transient failures and for depleted error budgets. A fresh
	// policy is drawn per logical request.
	RetryDelayLow  func() backoff.BackOff
	RetryDelayHigh func() backoff.BackOff

	// PageSplitDelay estimates, from the page count, how long a full
	// multi-page fetch takes. It drives the pre-fan-out wait for cache
	// expiry. If nil, pages·75ms + 2.5s.
	PageSplitDelay func(pages int) time.Duration

	// StripHeader lists lowercase response header names to drop before
	// presentation. If nil, CORS and transport-security headers are dropped.
	StripHeader []string

	// Limiter, if set, gates every exchange, including retries and page
	// fetches. The library itself never throttles from response headers.
	Limiter *rate.Limiter

	// Logger receives debug records. If nil, nothing is logged.
	Logger *slog.Logger
}

// A Client issues requests to ESI. It is safe for concurrent use.
type Client struct {
	source         sessionSource
	defaultHeader  map[string]string
	defaultQuery   map[string]string
	maxTime        time.Duration
	maxRetries     int
	retryDelayLow  func() backoff.BackOff
	retryDelayHigh func() backoff.BackOff
	pageSplitDelay func(pages int) time.Duration
	stripHeader    map[string]bool
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// NewClient returns a Client. Its connections start dialing immediately;
// requests issued before a session is ready are queued.
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}
	c := &Client{
		defaultHeader:  opts.DefaultHeader,
		defaultQuery:   opts.DefaultQuery,
		maxTime:        opts.MaxTime,
		maxRetries:     opts.MaxRetries,
		retryDelayLow:  opts.RetryDelayLow,
		retryDelayHigh: opts.RetryDelayHigh,
		pageSplitDelay: opts.PageSplitDelay,
		limiter:        opts.Limiter,
		logger:         opts.Logger,
	}
	if c.maxTime == 0 {
		c.maxTime = defaultMaxTime
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = defaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.retryDelayLow == nil {
		c.retryDelayLow = defaultRetryDelayLow
	}
	if c.retryDelayHigh == nil {
		c.retryDelayHigh = defaultRetryDelayHigh
	}
	if c.pageSplitDelay == nil {
		c.pageSplitDelay = defaultPageSplitDelay
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	strip := opts.StripHeader
	if strip == nil {
		strip = defaultStripHeader
	}
	c.stripHeader = make(map[string]bool, len(strip))
	for _, name := range strip {
		c.stripHeader[name] = true
	}

	switch {
	case opts.Connection != nil:
		c.source = opts.Connection
	case opts.PoolSize > 1:
		pool, err := NewConnectionPool(opts.PoolSize, opts.ConnectionSettings)
		if err != nil {
			return nil, err
		}
		c.source = pool
	default:
		conn, err := NewConnection(opts.ConnectionSettings)
		if err != nil {
			return nil, err
		}
		c.source = conn
	}
	return c, nil
}

// RequestOptions configures one call to [Client.Request]. The zero value is
// a plain GET.
type RequestOptions struct {
	// Method is the HTTP method; "" means GET.
	Method string

	// Header is merged over the client's default headers.
	Header map[string]string

	// Parameters fills the {name} variables of the path template.
	Parameters map[string]any

	// Query is merged over the client's default query parameters.
	Query map[string]string

	// Body is JSON-encoded as the request body.
	Body any

	// BodyPageSize, when positive on a POST whose Body is a non-empty slice,
	// splits the body into chunks of this many elements, submitted
	// concurrently and merged.
	BodyPageSize int

	// Token, if set, is resolved per exchange into a bearer token.
	Token TokenSource

	// Previous enables conditional requests: its entity tag is replayed and a
	// 304 answer reuses its data. For paginated requests a previous merged
	// response supplies per-page entity tags positionally.
	Previous *Response
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Request performs a logical request against path, an RFC 6570 template like
// "/v4/characters/{character_id}/". GETs fetch and merge every page; POSTs
// with a BodyPageSize chunk their body; everything else is a single exchange
// with retry.
func (c *Client) Request(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if opts.Method != "" && !validMethods[opts.Method] {
		return nil, configErrorf("unsupported method %q", opts.Method)
	}
	switch {
	case opts.Method == "" || opts.Method == http.MethodGet:
		return c.paginateGet(ctx, path, opts)
	case opts.Method == http.MethodPost && opts.BodyPageSize > 0 && paginatedBody(opts.Body):
		return c.paginatePost(ctx, path, opts)
	default:
		return c.retryRequest(ctx, path, opts)
	}
}

// Close releases the client's connections. Connections passed in by the
// caller via [ClientOptions.Connection] are closed as well.
func (c *Client) Close() error {
	return c.source.Close()
}
