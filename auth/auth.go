// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package auth provides token plumbing for EVE Online's SSO.
//
// It wires the SSO's OAuth2 endpoints into [oauth2.TokenSource] values that
// the esi package can consume, and decodes the character identity embedded in
// SSO access tokens.
package auth

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Endpoint is the EVE SSO OAuth2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://login.eveonline.com/v2/oauth/authorize",
	TokenURL: "https://login.eveonline.com/v2/oauth/token",
}

// NewConfig returns an OAuth2 config for the EVE SSO.
func NewConfig(clientID, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Endpoint:    Endpoint,
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}

// RefreshTokenSource returns a token source that mints access tokens from a
// stored refresh token, refreshing them as they expire. The result is
// typically wrapped with esi.OAuth2TokenSource and set on RequestOptions.
func RefreshTokenSource(ctx context.Context, cfg *oauth2.Config, refreshToken string) (oauth2.TokenSource, error) {
	if refreshToken == "" {
		return nil, errors.New("auth: empty refresh token")
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}), nil
}

// TokenStore persists tokens so that a rotated refresh token survives
// process restarts.
type TokenStore interface {
	Save(context.Context, *oauth2.Token) error
}

type persistentTokenSource struct {
	wrapped oauth2.TokenSource
	store   TokenStore
	ctx     context.Context
}

// NewPersistentTokenSource returns a token source that saves the token to
// store after every successful Token call. The SSO rotates refresh tokens on
// use, so wrapping a refreshing source this way keeps the stored token
// current. The passed context is used for [TokenStore.Save] calls.
func NewPersistentTokenSource(ctx context.Context, wrapped oauth2.TokenSource, store TokenStore) oauth2.TokenSource {
	return &persistentTokenSource{
		wrapped: wrapped,
		store:   store,
		ctx:     ctx,
	}
}

func (t *persistentTokenSource) Token() (*oauth2.Token, error) {
	token, err := t.wrapped.Token()
	if err != nil {
		return nil, err
	}
	if err := t.store.Save(t.ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}
