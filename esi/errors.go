// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by requests issued after the connection (or the
// client owning it) has been closed.
var ErrClosed = errors.New("connection closed")

// A ConfigError reports an invalid request configuration, such as a path
// template variable with no matching parameter. It is always returned before
// any I/O takes place.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// A ConnTimeoutError is returned when a request queued behind a reconnecting
// session aged out before the session became ready.
type ConnTimeoutError struct {
	// Age is how long the request had been waiting when it was evicted.
	Age time.Duration
}

func (e *ConnTimeoutError) Error() string { return "Waited too long for a connection" }

// A DecodeError is returned when a response declared application/json but its
// body failed to parse. Response carries the status, headers and raw body.
type DecodeError struct {
	Response *Response
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response body: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// An HTTPError is returned for a non-retryable, non-2xx status. Response is
// the offending response.
type HTTPError struct {
	Response *Response
	msg      string
}

func (e *HTTPError) Error() string { return e.msg }

// newHTTPError derives the error message from the response body's "error"
// property when present, mirroring the ESI error envelope.
func newHTTPError(resp *Response) *HTTPError {
	if obj, ok := resp.Data.(map[string]any); ok {
		if s, ok := obj["error"].(string); ok && s != "" {
			return &HTTPError{Response: resp, msg: s}
		}
	}
	return &HTTPError{Response: resp, msg: fmt.Sprintf("Response code %d", resp.Status)}
}

// A RetryLimitError is returned when retryable failures outlasted the retry
// budget. Response is the last response received.
type RetryLimitError struct {
	Response *Response
}

func (e *RetryLimitError) Error() string { return "Retry limit reached" }

// A PageSplitError is returned when the pages of a paginated GET were served
// from different cache generations and cannot be merged consistently.
// Responses holds the per-page responses collected before the failure.
type PageSplitError struct {
	Responses []*Response
}

func (e *PageSplitError) Error() string { return "Page split detected" }
