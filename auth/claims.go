// Copyright 2025 The Go ESI SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package auth

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/encoding/json"
)

// Claims is the subset of an EVE SSO access token's claims that clients act
// on: who the token is for, what it may do, and when it stops working.
type Claims struct {
	jwt.RegisteredClaims

	// Name is the character name.
	Name string `json:"name"`

	// Owner identifies the account owning the character; it changes when the
	// character is transferred.
	Owner string `json:"owner"`

	// Scopes lists the granted ESI scopes.
	Scopes ScopeList `json:"scp"`
}

// ParseToken decodes the claims of an SSO access token without verifying its
// signature. The client is the token's holder, not its verifier; signature
// checks belong to the resource server.
func ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("auth: parsing token: %w", err)
	}
	return claims, nil
}

// CharacterID extracts the character ID from the token subject, which the
// SSO encodes as "CHARACTER:EVE:<id>".
func (c *Claims) CharacterID() (int64, error) {
	parts := strings.Split(c.Subject, ":")
	if len(parts) != 3 || parts[0] != "CHARACTER" {
		return 0, fmt.Errorf("auth: unexpected token subject %q", c.Subject)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("auth: unexpected token subject %q", c.Subject)
	}
	return id, nil
}

// HasScope reports whether the token grants the named ESI scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// A ScopeList is a list of granted scopes. The SSO serializes a single scope
// as a bare string and multiple scopes as an array, so both forms decode.
type ScopeList []string

func (l *ScopeList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = ScopeList{s}
		return nil
	}
	var s []string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ScopeList(s)
	return nil
}
