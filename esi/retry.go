// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// defaultRetryDelayLow is the backoff policy for generic transient failures:
// 500ms growing 3x up to 15s, jittered ±25%.
func defaultRetryDelayLow() backoff.BackOff {
	e := backoff.NewExponentialBackOff()
	e.InitialInterval = 500 * time.Millisecond
	e.Multiplier = 3
	e.MaxInterval = 15 * time.Second
	e.RandomizationFactor = 0.25
	return e
}

// defaultRetryDelayHigh is the backoff policy selected when the response
// signals a depleted per-endpoint error budget: 15s growing 2x up to 60s,
// jittered ±25%. The error window resets on the order of a minute, so short
// delays would only burn more of the budget.
func defaultRetryDelayHigh() backoff.BackOff {
	e := backoff.NewExponentialBackOff()
	e.InitialInterval = 15 * time.Second
	e.Multiplier = 2
	e.MaxInterval = 60 * time.Second
	e.RandomizationFactor = 0.25
	return e
}

// retryable reports whether the status is worth another attempt.
func retryable(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryRequest repeats makeRequest under the client's retry budget:
// MaxRetries+1 attempts within a MaxTime wall deadline. Fresh delay policies
// are drawn for every call so one burst does not bias the next.
func (c *Client) retryRequest(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	deadline := time.Now().Add(c.maxTime)
	low, high := c.retryDelayLow(), c.retryDelayHigh()

	var last *Response
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.makeRequest(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		last = resp
		if resp.Status >= 200 && resp.Status < 300 {
			return resp, nil
		}
		if !retryable(resp.Status) {
			return nil, newHTTPError(resp)
		}
		if attempt == c.maxRetries {
			// No attempt left; sleeping would only delay the failure.
			break
		}

		delay, ok := retryAfter(resp)
		if !ok {
			policy := low
			if _, limited := resp.Header["x-esi-error-limit-reset"]; limited {
				policy = high
			}
			delay = policy.NextBackOff()
			if delay == backoff.Stop {
				break
			}
		}
		if time.Now().Add(delay).After(deadline) {
			break
		}
		c.logger.Debug("esi: retrying", "path", path, "status", resp.Status, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, &RetryLimitError{Response: last}
}

// retryAfter extracts the server's retry directive: either a number of
// seconds or an HTTP-date, which is interpreted relative to the response's
// own date header and padded by a second to absorb clock truncation.
func retryAfter(resp *Response) (time.Duration, bool) {
	value, ok := resp.Header["retry-after"]
	if !ok || value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	base, err := http.ParseTime(resp.Header["date"])
	if err != nil {
		base = time.Now()
	}
	return at.Sub(base) + time.Second, true
}
