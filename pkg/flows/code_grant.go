// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/request"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// authorizationCodeGrant redeems an authorization code: hash+client+redirect
// lookup, PKCE verification, single-use disabling, then the token
// bundle.
func (e *Engine) authorizationCodeGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if tr.Code == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "code is required")
	}
	rec, err := e.stor.FindAuthorizationCodeByHash(ctx, e.cfg.PluginName, token.HashSecret(tr.Code))
	if err != nil || rec == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "unknown authorization code")
	}
	if rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "code was issued to a different client")
	}
	if rec.RedirectURI != tr.RedirectURI {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if !rec.Enabled {
		// Replay of a consumed code. The policy flag cascades to every descendant
		// token minted from this code.
		e.h.IncrementCounter("oidc_code_replay_total", 1, map[string]string{"plugin": e.cfg.PluginName})
		log.Warnw("authorization code replay detected",
			"plugin", e.cfg.PluginName, "client", tr.Client.ID, "code_id", rec.ID)
		if e.cfg.RevokeTokensFromCode {
			if err := e.stor.DisableDescendantsOfCode(ctx, e.cfg.PluginName, rec.ID); err != nil {
				log.Errorw("disabling code descendants failed", "plugin", e.cfg.PluginName, "error", err)
			}
		}
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "authorization code already used")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "authorization code expired")
	}
	if err := request.VerifyPKCE(tr.CodeVerifier, rec.CodeChallenge); err != nil {
		return nil, err
	}
	if err := e.stor.DisableAuthorizationCode(ctx, e.cfg.PluginName, rec.ID); err != nil {
		return nil, oidcerr.Persistence(err, "consuming authorization code")
	}

	resource := rec.ResourceURI
	if tr.Resource != "" {
		if tr.Resource != resource && resource != "" {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidTarget, "resource does not match the authorization request")
		}
		resource = tr.Resource
	}

	var claimsReq *claims.ClaimsRequest
	if rec.ClaimsRequest != "" {
		var parsed claims.ClaimsRequest
		if err := json.Unmarshal([]byte(rec.ClaimsRequest), &parsed); err == nil {
			claimsReq = &parsed
		}
	}

	return e.mintUserTokens(ctx, mintInput{
		client:         tr.Client,
		username:       rec.Username,
		scopes:         rec.Scopes,
		resource:       resource,
		authDetails:    rec.AuthDetails,
		claimsRequest:  claimsReq,
		amr:            rec.AMR,
		cnf:            tr.confirmation(),
		authorizeType:  "code",
		parentCodeID:   rec.ID,
		nonce:          rec.Nonce,
		authTime:       rec.CreatedAt,
		includeID:      hasScope(rec.Scopes, "openid"),
		includeRefresh: true,
		userAgent:      tr.UserAgent,
	})
}

func hasScope(scopes []string, s string) bool {
	for _, v := range scopes {
		if v == s {
			return true
		}
	}
	return false
}
