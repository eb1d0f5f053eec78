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
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

func TestExpandPath(t *testing.T) {
	got, err := expandPath("/v4/characters/{character_id}/", map[string]any{"character_id": 123})
	if err != nil {
		t.Fatalf("expandPath() failed: %v", err)
	}
	if want := "/v4/characters/123/"; got != want {
		t.Errorf("expandPath() = %q, want %q", got, want)
	}
}

func TestExpandPathMissingParameter(t *testing.T) {
	_, err := expandPath("/v4/characters/{character_id}/", nil)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expandPath() error = %v, want ConfigError", err)
	}
}

func TestRequestPathEncodedOnce(t *testing.T) {
	var gotPath string
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	client := newTestClient(t, srv, nil)

	if _, err := client.Request(context.Background(), "/v1/search/{q}/", &RequestOptions{
		Parameters: map[string]any{"q": "Jita 4-4"},
	}); err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if want := "/v1/search/Jita 4-4/"; gotPath != want {
		t.Errorf("server saw path %q, want %q (encoded exactly once)", gotPath, want)
	}
}

func TestBuildQuery(t *testing.T) {
	got := buildQuery(
		map[string]string{"datasource": "tranquility", "language": "en"},
		map[string]string{"language": "de", "page": "2"},
	)
	want := "datasource=tranquility&language=de&page=2"
	if enc := got.Encode(); enc != want {
		t.Errorf("buildQuery() = %q, want %q", enc, want)
	}
}

func TestDecompress(t *testing.T) {
	payload := []byte(`{"ok":true}`)

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(payload)
	zw.Close()

	var zl bytes.Buffer
	lw := zlib.NewWriter(&zl)
	lw.Write(payload)
	lw.Close()

	var fl bytes.Buffer
	fw, _ := flate.NewWriter(&fl, flate.DefaultCompression)
	fw.Write(payload)
	fw.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write(payload)
	bw.Close()

	tests := []struct {
		name     string
		encoding string
		raw      []byte
	}{
		{"identity", "", payload},
		{"gzip", "gzip", gz.Bytes()},
		{"zlib deflate", "deflate", zl.Bytes()},
		{"raw flate deflate", "deflate", fl.Bytes()},
		{"brotli", "br", br.Bytes()},
		{"unknown passthrough", "zstd", payload},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := decompress(test.raw, test.encoding)
			if err != nil {
				t.Fatalf("decompress() failed: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("decompress() = %q, want %q", got, payload)
			}
		})
	}
}

func TestMaterialize(t *testing.T) {
	header := map[string]string{"etag": `"e"`}
	previous := &Response{Status: 200, Data: map[string]any{"old": true}}

	tests := []struct {
		name        string
		status      int
		raw         string
		contentType string
		previous    *Response
		want        *Response
	}{
		{
			name:        "json body",
			status:      200,
			raw:         `{"players":42}`,
			contentType: "application/json; charset=utf-8",
			want:        &Response{Status: 200, Header: header, Data: map[string]any{"players": float64(42)}},
		},
		{
			name:        "non-json body",
			status:      200,
			raw:         "pong",
			contentType: "text/plain",
			want:        &Response{Status: 200, Header: header, Body: "pong"},
		},
		{
			name:     "304 inherits previous",
			status:   304,
			previous: previous,
			want:     &Response{Status: 200, Header: header, Data: previous.Data},
		},
		{
			name:   "304 without previous",
			status: 304,
			want:   &Response{Status: 304, Header: header},
		},
		{
			name:   "empty body",
			status: 204,
			want:   &Response{Status: 204, Header: header},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := materialize(test.status, header, []byte(test.raw), test.contentType, test.previous)
			if err != nil {
				t.Fatalf("materialize() failed: %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("materialize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMaterializeParseFailure(t *testing.T) {
	_, err := materialize(200, map[string]string{}, []byte("{broken"), "application/json", nil)
	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("materialize() error = %v, want DecodeError", err)
	}
	if derr.Response.Body != "{broken" {
		t.Errorf("DecodeError body = %q, want raw body", derr.Response.Body)
	}
	if derr.Response.Status != 200 {
		t.Errorf("DecodeError status = %d, want 200", derr.Response.Status)
	}
}

func TestStripHeader(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=1")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Pages", "1")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	client := newTestClient(t, srv, nil)

	resp, err := client.Request(context.Background(), "/v1/status/", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	for _, name := range []string{"strict-transport-security", "access-control-allow-origin"} {
		if _, ok := resp.Header[name]; ok {
			t.Errorf("header %q not stripped", name)
		}
	}
	if resp.Header["x-pages"] != "1" {
		t.Errorf("x-pages header = %q, want to survive lowercased", resp.Header["x-pages"])
	}
}

func TestTokenSources(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"auth":"` + r.Header.Get("Authorization") + `"}`))
	}))
	client := newTestClient(t, srv, nil)

	tests := []struct {
		name  string
		token TokenSource
	}{
		{"static", StaticToken("tok-1")},
		{"func", TokenFunc(func(context.Context) (string, error) { return "tok-1", nil })},
		{"oauth2", OAuth2TokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"}))},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resp, err := client.Request(context.Background(), "/v1/test/", &RequestOptions{Token: test.token})
			if err != nil {
				t.Fatalf("Request() failed: %v", err)
			}
			want := map[string]any{"auth": "Bearer tok-1"}
			if diff := cmp.Diff(want, resp.Data); diff != "" {
				t.Errorf("response data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenError(t *testing.T) {
	srv := newTestServer(t, jsonHandler("{}", nil))
	client := newTestClient(t, srv, nil)

	wantErr := errors.New("token store unavailable")
	_, err := client.Request(context.Background(), "/v1/test/", &RequestOptions{
		Token: TokenFunc(func(context.Context) (string, error) { return "", wantErr }),
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Request() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestQueryAndHeaderDefaults(t *testing.T) {
	var gotQuery, gotHeader string
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	client := newTestClient(t, srv, &ClientOptions{
		DefaultHeader: map[string]string{"X-User-Agent": "go-esi-test"},
		DefaultQuery:  map[string]string{"datasource": "tranquility"},
	})

	if _, err := client.Request(context.Background(), "/v1/status/", &RequestOptions{
		Query: map[string]string{"language": "en"},
	}); err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if want := "datasource=tranquility&language=en"; gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
	if gotHeader != "go-esi-test" {
		t.Errorf("X-User-Agent = %q, want default header applied", gotHeader)
	}
}

func TestRequestBodyEncoded(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	}))
	client := newTestClient(t, srv, nil)

	if _, err := client.Request(context.Background(), "/v3/universe/names/", &RequestOptions{
		Method: http.MethodPut,
		Body:   []int{1, 2, 3},
	}); err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if want := "[1,2,3]"; string(gotBody) != want {
		t.Errorf("request body = %q, want %q", gotBody, want)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
}

func TestCompressedResponse(t *testing.T) {
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte(`{"players":42}`))
		zw.Close()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	client := newTestClient(t, srv, nil)

	resp, err := client.Request(context.Background(), "/v1/status/", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	want := map[string]any{"players": float64(42)}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("response data mismatch (-want +got):\n%s", diff)
	}
}
