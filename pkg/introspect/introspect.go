// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package introspect implements RFC 7662 token introspection and RFC 7009
// revocation. Introspection answers for access tokens only; any other
// hint silently yields {active:false}. Revocation dispatches by type hint or
// scans refresh, then access, then id.
package introspect

import (
	"context"
	"strings"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// Backing is the narrow store contract.
type Backing interface {
	FindAccessTokenByHash(ctx context.Context, pluginName, hash string) (*store.AccessTokenRecord, error)
	DisableAccessToken(ctx context.Context, pluginName, id string) error
	FindRefreshTokenByHashAny(ctx context.Context, pluginName, hash string) (*store.RefreshToken, error)
	DisableRefreshToken(ctx context.Context, pluginName, id string) error
	DeleteIDTokenByHash(ctx context.Context, pluginName, hash string) (bool, error)
}

// Response is the RFC 7662 introspection body.
type Response struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Jti       string `json:"jti,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// Service answers introspection and revocation for one plugin instance.
type Service struct {
	pluginName string
	issuer     string
	backing    Backing
	tokens     *token.Factory
}

// New builds a Service; tokens signs JWT-shaped introspection responses.
func New(pluginName, issuer string, backing Backing, tokens *token.Factory) *Service {
	return &Service{pluginName: pluginName, issuer: issuer, backing: backing, tokens: tokens}
}

// Introspect resolves tokenStr. Hints other than access_token (or unset)
// are answered inactive without a lookup.
func (s *Service) Introspect(ctx context.Context, tokenStr, hint string) (*Response, error) {
	if hint != "" && hint != "access_token" {
		return &Response{Active: false}, nil
	}
	rec, err := s.backing.FindAccessTokenByHash(ctx, s.pluginName, token.HashSecret(tokenStr))
	if err != nil && err != store.ErrNotFound {
		return nil, oidcerr.Persistence(err, "access token lookup failed")
	}
	if rec == nil || !rec.Enabled || time.Now().After(rec.ExpiresAt) {
		return &Response{Active: false}, nil
	}
	return &Response{
		Active:    true,
		Scope:     strings.Join(rec.Scopes, " "),
		ClientID:  rec.ClientID,
		Username:  rec.Username,
		TokenType: "bearer",
		Exp:       rec.ExpiresAt.Unix(),
		Iat:       rec.IssuedAt.Unix(),
		Jti:       rec.JTI,
		Iss:       s.issuer,
	}, nil
}

// IntrospectJWT wraps the introspection result in a signed JWT per the
// application/token-introspection+jwt response shape: the payload nests the
// RFC 7662 object under "token_introspection".
func (s *Service) IntrospectJWT(ctx context.Context, tokenStr, hint, audience string) (string, error) {
	resp, err := s.Introspect(ctx, tokenStr, hint)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := map[string]any{
		"iss":                 s.issuer,
		"iat":                 now.Unix(),
		"token_introspection": resp,
	}
	if audience != "" {
		claims["aud"] = audience
	}
	signed, err := s.tokens.SignClaims("", "token-introspection+jwt", claims)
	if err != nil {
		return "", oidcerr.CryptoServer(err, "signing introspection response")
	}
	return signed, nil
}

// Revoke flips the enabled flag on whatever stored record matches tokenStr,
// trying the hinted type first, then refresh, access, id in order. Per
// RFC 7009 an unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, tokenStr, hint string) error {
	hash := token.HashSecret(tokenStr)

	tryRefresh := func() (bool, error) {
		rec, err := s.backing.FindRefreshTokenByHashAny(ctx, s.pluginName, hash)
		if err != nil && err != store.ErrNotFound {
			return false, err
		}
		if rec == nil {
			return false, nil
		}
		return true, s.backing.DisableRefreshToken(ctx, s.pluginName, rec.ID)
	}
	tryAccess := func() (bool, error) {
		rec, err := s.backing.FindAccessTokenByHash(ctx, s.pluginName, hash)
		if err != nil && err != store.ErrNotFound {
			return false, err
		}
		if rec == nil {
			return false, nil
		}
		return true, s.backing.DisableAccessToken(ctx, s.pluginName, rec.ID)
	}
	tryID := func() (bool, error) {
		return s.backing.DeleteIDTokenByHash(ctx, s.pluginName, hash)
	}

	order := []func() (bool, error){tryRefresh, tryAccess, tryID}
	switch hint {
	case "access_token":
		order = []func() (bool, error){tryAccess, tryRefresh, tryID}
	case "id_token":
		order = []func() (bool, error){tryID, tryRefresh, tryAccess}
	}

	for _, attempt := range order {
		found, err := attempt()
		if err != nil {
			return oidcerr.Persistence(err, "revocation lookup failed")
		}
		if found {
			log.Infow("token revoked", "plugin", s.pluginName)
			return nil
		}
	}
	return nil
}
