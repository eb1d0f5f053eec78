// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package esi

import (
	"context"

	"golang.org/x/oauth2"
)

// A TokenSource supplies the bearer token attached to authenticated requests.
// It is resolved once per exchange, immediately before header assembly, so
// implementations may refresh expired tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed bearer string.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// OAuth2TokenSource adapts an [oauth2.TokenSource], such as one produced by
// the auth package, to the TokenSource interface.
func OAuth2TokenSource(src oauth2.TokenSource) TokenSource {
	return oauth2Source{src: src}
}

type oauth2Source struct {
	src oauth2.TokenSource
}

func (s oauth2Source) Token(context.Context) (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
