// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"context"
	"reflect"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultPageSplitDelay estimates how long a full multi-page fetch takes:
// a per-page allowance plus a flat budget for retries.
func defaultPageSplitDelay(pages int) time.Duration {
	return time.Duration(pages)*75*time.Millisecond + 2500*time.Millisecond
}

// previousPages flattens a prior response into per-page previous responses.
// A merged response supplies its sub-responses positionally; a single
// response stands in for page 1 only.
func previousPages(previous *Response) []*Response {
	if previous == nil {
		return nil
	}
	if len(previous.Responses) > 0 {
		return previous.Responses
	}
	return []*Response{previous}
}

// prevAt returns the i'th previous page, or nil when the page count grew
// since the previous fetch.
func prevAt(previous []*Response, i int) *Response {
	if i < len(previous) {
		return previous[i]
	}
	return nil
}

// pageOptions clones opts for a single page fetch. page 0 leaves the query
// untouched (page 1 is requested without an explicit page parameter).
func pageOptions(opts *RequestOptions, page int, previous *Response) *RequestOptions {
	clone := *opts
	clone.Previous = previous
	if page > 0 {
		query := make(map[string]string, len(opts.Query)+1)
		for k, v := range opts.Query {
			query[k] = v
		}
		query["page"] = strconv.Itoa(page)
		clone.Query = query
	}
	return &clone
}

// paginateGet fetches every page of a GET endpoint and merges them.
//
// Pages of an ESI endpoint are slices of one cached dataset; if the cache
// regenerates while pages are being fetched, the pages disagree. Two defenses
// apply: when the cache is about to expire, wait out the current generation
// before fanning out, and after the fetch, require that every page carried an
// identical expires header.
func (c *Client) paginateGet(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	previous := previousPages(opts.Previous)

	first, err := c.retryRequest(ctx, path, pageOptions(opts, 0, prevAt(previous, 0)))
	if err != nil {
		return nil, err
	}
	pages := first.Pages()

	if pages > 1 {
		if expiresIn, ok := first.expiresIn(); ok && expiresIn < c.pageSplitDelay(pages) {
			c.logger.Debug("esi: waiting for cache expiry before fan-out",
				"path", path, "pages", pages, "expiresIn", expiresIn)
			if expiresIn > 0 {
				select {
				case <-time.After(expiresIn):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			first, err = c.retryRequest(ctx, path, pageOptions(opts, 0, prevAt(previous, 0)))
			if err != nil {
				return nil, err
			}
			pages = first.Pages()
		}
	}
	if pages == 1 {
		return first, nil
	}

	results := make([]*Response, pages)
	results[0] = first
	g, gctx := errgroup.WithContext(ctx)
	for page := 2; page <= pages; page++ {
		g.Go(func() error {
			resp, err := c.retryRequest(gctx, path, pageOptions(opts, page, prevAt(previous, page-1)))
			if err != nil {
				return err
			}
			results[page-1] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergePages(results)
	if _, ok := merged.Header["expires"]; !ok {
		// At least one page was served from a different cache generation.
		return nil, &PageSplitError{Responses: results}
	}
	return merged, nil
}

// paginatePost splits the request body into chunks of BodyPageSize elements,
// submits them concurrently, and merges the responses in chunk order.
func (c *Client) paginatePost(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	body := reflect.ValueOf(opts.Body)
	n := body.Len()
	size := opts.BodyPageSize
	count := (n + size - 1) / size

	results := make([]*Response, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := range count {
		chunk := body.Slice(i*size, min((i+1)*size, n)).Interface()
		g.Go(func() error {
			chunkOpts := *opts
			chunkOpts.Body = chunk
			chunkOpts.BodyPageSize = 0
			resp, err := c.retryRequest(gctx, path, &chunkOpts)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergePages(results), nil
}

// paginatedBody reports whether the request body is an array that POST
// pagination can chunk. Strings and byte slices serialize as JSON scalars and
// fall through to a single request.
func paginatedBody(body any) bool {
	if body == nil {
		return false
	}
	if _, ok := body.([]byte); ok {
		return false
	}
	v := reflect.ValueOf(body)
	return v.Kind() == reflect.Slice && v.Len() > 0
}
