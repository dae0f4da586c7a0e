// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// passwordGrant is the resource-owner password credentials flow: non-OIDC
// mode enabled, confidential client flagged for "password", and the host
// verifying the credentials. amr is ["password"] on any resulting
// id_token.
func (e *Engine) passwordGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if !e.cfg.AllowNonOIDC {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "password grant requires non-OIDC mode")
	}
	if !tr.Client.Confidential {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "password grant requires a confidential client")
	}
	if !clientAllows(tr.Client, "password") {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "client is not authorized for the password grant")
	}
	if tr.Username == "" || tr.Password == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "username and password are required")
	}

	scopeStr := joinScopes(tr.Scope)
	ok, err := e.h.CheckUserValid(ctx, tr.Username, tr.Password, scopeStr)
	if err != nil {
		return nil, oidcerr.Persistence(err, "password verification failed")
	}
	if !ok {
		log.Warnw("password grant rejected", "plugin", e.cfg.PluginName, "client", tr.Client.ID)
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "invalid resource owner credentials")
	}

	return e.mintUserTokens(ctx, mintInput{
		client:         tr.Client,
		username:       tr.Username,
		scopes:         tr.Scope,
		resource:       tr.Resource,
		amr:            []string{"password"},
		cnf:            tr.confirmation(),
		authorizeType:  "password",
		authTime:       time.Now(),
		includeID:      tr.Scope.Has("openid"),
		includeRefresh: true,
		userAgent:      tr.UserAgent,
	})
}

// clientCredentialsGrant mints a client token: confidential client flagged
// for "client_credentials", scopes reduced to the client's own scope
// list.
func (e *Engine) clientCredentialsGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if !tr.Client.Confidential {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "client_credentials requires a confidential client")
	}
	if !clientAllows(tr.Client, "client_credentials") {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "client is not authorized for client_credentials")
	}

	var scopes []string
	if len(tr.Scope) == 0 {
		scopes = tr.Client.Scopes
	} else {
		for _, s := range tr.Scope {
			if hasScope(tr.Client.Scopes, s) {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidScope, "no requested scope belongs to the client")
	}

	jwt, jti, err := e.tokens.MintAccessToken(e.signKid(tr.Client), token.AccessTokenParams{
		Issuer:              e.cfg.Issuer,
		Audience:            audienceFor(tr.Resource, scopes),
		ClientID:            tr.Client.ID,
		Scope:               scopes,
		Lifetime:            e.cfg.AccessTokenLifespan,
		Confirmation:        tr.confirmation(),
		IsClientCredentials: true,
	})
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "minting client token")
	}
	rec := &store.AccessTokenRecord{
		ID:            uuid.NewString(),
		PluginName:    e.cfg.PluginName,
		AuthorizeType: "client_credentials",
		ClientID:      tr.Client.ID,
		Scopes:        scopes,
		Resource:      tr.Resource,
		Hash:          token.HashSecret(jwt),
		JTI:           jti,
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().Add(e.cfg.AccessTokenLifespan),
		Enabled:       true,
	}
	if err := e.stor.InsertAccessToken(ctx, rec); err != nil {
		return nil, oidcerr.Persistence(err, "recording client token")
	}

	encrypted, err := e.encryptFor(ctx, tr.Client, TokenTypeAccess, jwt)
	if err != nil {
		return nil, err
	}
	e.h.IncrementCounter("oidc_tokens_issued_total", 1,
		map[string]string{"plugin": e.cfg.PluginName, "grant": "client_credentials"})
	return &TokenResponse{
		AccessToken: encrypted,
		TokenType:   "bearer",
		ExpiresIn:   int64(e.cfg.AccessTokenLifespan.Seconds()),
		Scope:       joinScopes(scopes),
	}, nil
}

// deleteTokenGrant is the non-standard extension letting a client flagged
// with the delete_token authorization type disable a refresh token it
// owns.
func (e *Engine) deleteTokenGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if !clientAllows(tr.Client, "delete_token") {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "client is not authorized for delete_token")
	}
	if tr.Token == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "token is required")
	}
	rec, err := e.stor.FindRefreshTokenByHashAny(ctx, e.cfg.PluginName, token.HashSecret(tr.Token))
	if err != nil {
		return nil, oidcerr.Persistence(err, "refresh token lookup failed")
	}
	if rec == nil || rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "token is not held by this client")
	}
	if err := e.stor.DisableRefreshToken(ctx, e.cfg.PluginName, rec.ID); err != nil {
		return nil, oidcerr.Persistence(err, "disabling refresh token")
	}
	log.Infow("refresh token deleted by client",
		"plugin", e.cfg.PluginName, "client", tr.Client.ID, "token_id", rec.ID)
	return &TokenResponse{}, nil
}
