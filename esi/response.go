// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	internaljson "github.com/evetools/go-esi/internal/json"
)

// A Response is the result of a single exchange, or of a paginated request
// after its pages have been merged.
//
// Exactly one of Data and Body is populated for a non-empty response: Data
// when the server declared application/json and the body parsed, Body
// otherwise. A 304 response inherits Data and Status from the previous
// response that supplied the entity tag.
type Response struct {
	// Status is the HTTP status code. For a merged response it is the first
	// page's status; for a 304 it is the previous response's status.
	Status int

	// Header maps lowercased header names to values. For a merged response it
	// holds only the headers shared, with equal values, by every page.
	Header map[string]string

	// Data is the decoded JSON body, if any. For a merged response it is the
	// concatenation, in page order, of the page data.
	Data any

	// Body is the raw body of a non-JSON, non-empty response.
	Body string

	// Responses lists the per-page responses of a paginated request, in page
	// order. It is nil for single responses.
	Responses []*Response
}

// Get returns the value of the named header. Lookup is case-insensitive.
func (r *Response) Get(name string) string {
	return r.Header[strings.ToLower(name)]
}

// ETag returns the response's entity tag, or "" if it has none.
func (r *Response) ETag() string { return r.Header["etag"] }

// Pages returns the page count advertised by the x-pages header.
// It is at least 1.
func (r *Response) Pages() int {
	n, err := strconv.Atoi(r.Header["x-pages"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Decode unmarshals the response data into v, which must be a pointer.
func (r *Response) Decode(v any) error {
	data, err := internaljson.Marshal(r.Data)
	if err != nil {
		return err
	}
	return internaljson.Unmarshal(data, v)
}

// expiresIn reports how long the response remains cached upstream, derived
// from the expires and date headers, padded by one second to absorb clock
// truncation. The second result is false if either header is missing or
// malformed.
func (r *Response) expiresIn() (time.Duration, bool) {
	expires, err := http.ParseTime(r.Header["expires"])
	if err != nil {
		return 0, false
	}
	date, err := http.ParseTime(r.Header["date"])
	if err != nil {
		return 0, false
	}
	return expires.Sub(date) + time.Second, true
}

// canonicalHeader flattens an http.Header into a lowercase-keyed map,
// dropping the names listed in strip. Only the first value of a repeated
// header is retained.
func canonicalHeader(h http.Header, strip map[string]bool) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if strip[lower] {
			continue
		}
		out[lower] = values[0]
	}
	return out
}

// commonHeader returns the name/value pairs present, with equal values, in
// every response.
func commonHeader(responses []*Response) map[string]string {
	common := make(map[string]string, len(responses[0].Header))
	for name, value := range responses[0].Header {
		common[name] = value
	}
	for _, r := range responses[1:] {
		for name, value := range common {
			if r.Header[name] != value {
				delete(common, name)
			}
		}
	}
	return common
}

// mergePages assembles a single logical response from per-page responses:
// the first page's status, the headers common to all pages, and the page
// data concatenated in page order. Page data is normally a JSON array; a
// non-array value is tolerated and appended as a single element rather than
// failing the whole merge.
func mergePages(responses []*Response) *Response {
	var data []any
	for _, r := range responses {
		if items, ok := r.Data.([]any); ok {
			data = append(data, items...)
		} else if r.Data != nil {
			data = append(data, r.Data)
		}
	}
	return &Response{
		Status:    responses[0].Status,
		Header:    commonHeader(responses),
		Data:      data,
		Responses: responses,
	}
}
