// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newTestServer starts an HTTP/2 TLS server for the duration of the test.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(handler)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(srv *httptest.Server) *ConnectionSettings {
	return &ConnectionSettings{
		URL:            srv.URL,
		TLSConfig:      &tls.Config{InsecureSkipVerify: true},
		ReconnectDelay: func() backoff.BackOff { return constantPolicy(10 * time.Millisecond) },
	}
}

// newTestClient returns a client connected to srv. opts may be nil.
func newTestClient(t *testing.T, srv *httptest.Server, opts *ClientOptions) *Client {
	t.Helper()
	if opts == nil {
		opts = &ClientOptions{}
	}
	if opts.ConnectionSettings == nil && opts.Connection == nil {
		opts.ConnectionSettings = testSettings(srv)
	}
	if opts.RetryDelayLow == nil {
		opts.RetryDelayLow = func() backoff.BackOff { return constantPolicy(0) }
	}
	if opts.RetryDelayHigh == nil {
		opts.RetryDelayHigh = func() backoff.BackOff { return constantPolicy(0) }
	}
	client, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// constantPolicy is a fixed-delay backoff for tests.
type constantPolicy time.Duration

func (p constantPolicy) NextBackOff() time.Duration { return time.Duration(p) }
func (p constantPolicy) Reset()                     {}

// recordingPolicy counts how often a delay was drawn from it.
type recordingPolicy struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (p *recordingPolicy) NextBackOff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.delay
}

func (p *recordingPolicy) Reset() {}

func (p *recordingPolicy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// jsonHandler writes body with an application/json content type and the given
// extra headers.
func jsonHandler(body string, header map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

// httpDate formats t the way servers emit date and expires headers.
func httpDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
