// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/yosida95/uritemplate/v3"

	internaljson "github.com/evetools/go-esi/internal/json"
)

// expandPath substitutes the {name} variables of an RFC 6570 path template.
// Every variable must have a parameter: template expansion silently replaces
// undefined variables with nothing, which would produce a syntactically valid
// but wrong request path.
func expandPath(path string, params map[string]any) (string, error) {
	tmpl, err := uritemplate.New(path)
	if err != nil {
		return "", configErrorf("invalid path template %q: %v", path, err)
	}
	values := uritemplate.Values{}
	for _, name := range tmpl.Varnames() {
		v, ok := params[name]
		if !ok {
			return "", configErrorf("path %q: no value for parameter %q", path, name)
		}
		values[name] = uritemplate.String(fmt.Sprint(v))
	}
	expanded, err := tmpl.Expand(values)
	if err != nil {
		return "", configErrorf("expanding path %q: %v", path, err)
	}
	return expanded, nil
}

// buildQuery merges the per-request query over the client defaults; the
// request wins on conflict.
func buildQuery(defaults, query map[string]string) url.Values {
	values := url.Values{}
	for k, v := range defaults {
		values.Set(k, v)
	}
	for k, v := range query {
		values.Set(k, v)
	}
	return values
}

// makeRequest performs one exchange: build the request, open a stream on a
// ready session, and materialize the response.
func (c *Client) makeRequest(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	expanded, err := expandPath(path, opts.Parameters)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, v := range c.defaultHeader {
		header.Set(k, v)
	}
	for k, v := range opts.Header {
		header.Set(k, v)
	}
	header.Set("Accept-Encoding", "gzip, deflate")
	if opts.Token != nil {
		token, err := opts.Token.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}
	if opts.Previous != nil {
		if etag := opts.Previous.ETag(); etag != "" {
			header.Set("If-None-Match", etag)
		}
	}

	var body io.Reader
	if opts.Body != nil {
		encoded, err := internaljson.Marshal(opts.Body)
		if err != nil {
			return nil, configErrorf("encoding request body: %v", err)
		}
		body = bytes.NewReader(encoded)
		header.Set("Content-Type", "application/json")
	}

	u := *c.source.base()
	// Template expansion already percent-encoded the path; install it as the
	// escaped form so building the request does not encode it a second time.
	unescaped, err := url.PathUnescape(expanded)
	if err != nil {
		return nil, configErrorf("expanding path %q: %v", path, err)
	}
	u.Path = unescaped
	u.RawPath = expanded
	if q := buildQuery(c.defaultQuery, opts.Query); len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, configErrorf("building request: %v", err)
	}
	req.Header = header

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	cc, err := c.source.acquire(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := cc.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, expanded, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, expanded, err)
	}
	raw, err = decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, expanded, err)
	}

	return materialize(resp.StatusCode, canonicalHeader(resp.Header, c.stripHeader),
		raw, resp.Header.Get("Content-Type"), opts.Previous)
}

// materialize applies the response decoding table: JSON bodies become Data,
// other non-empty bodies become Body, and an empty-bodied 304 inherits the
// previous response's data and status.
func materialize(status int, header map[string]string, raw []byte, contentType string, previous *Response) (*Response, error) {
	switch {
	case len(raw) > 0 && strings.Contains(contentType, "application/json"):
		var data any
		if err := internaljson.Unmarshal(raw, &data); err != nil {
			return nil, &DecodeError{
				Response: &Response{Status: status, Header: header, Body: string(raw)},
				Err:      err,
			}
		}
		return &Response{Status: status, Header: header, Data: data}, nil
	case len(raw) > 0:
		return &Response{Status: status, Header: header, Body: string(raw)}, nil
	case status == http.StatusNotModified && previous != nil:
		return &Response{Status: previous.Status, Header: header, Data: previous.Data}, nil
	default:
		return &Response{Status: status, Header: header}, nil
	}
}

// decompress decodes the body according to its content-encoding. Servers
// disagree on whether "deflate" means a zlib stream or a bare flate stream,
// so both are accepted.
func decompress(raw []byte, encoding string) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			if !errors.Is(err, zlib.ErrHeader) {
				return nil, fmt.Errorf("deflate body: %w", err)
			}
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			return io.ReadAll(fr)
		}
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	default:
		return raw, nil
	}
}
