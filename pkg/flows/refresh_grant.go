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
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// refreshTokenGrant exchanges a refresh token. Under one-use policy the old
// token is disabled and a new pair minted; otherwise last_seen is updated
// and a rolling token's expiry extended. Reuse of a disabled one-use token
// disables every sibling sharing its jti.
func (e *Engine) refreshTokenGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if tr.RefreshToken == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "refresh_token is required")
	}
	hash := token.HashSecret(tr.RefreshToken)
	rec, err := e.stor.FindRefreshTokenByHash(ctx, e.cfg.PluginName, hash)
	if err != nil {
		return nil, oidcerr.Persistence(err, "refresh token lookup failed")
	}
	if rec == nil {
		// Distinguish reuse of a disabled one-use token from a plain unknown
		// string, to cascade the sibling disable.
		stale, err := e.stor.FindRefreshTokenByHashAny(ctx, e.cfg.PluginName, hash)
		if err == nil && stale != nil && !stale.Enabled && stale.JTI != "" {
			e.h.IncrementCounter("oidc_refresh_reuse_total", 1, map[string]string{"plugin": e.cfg.PluginName})
			log.Warnw("refresh token reuse detected",
				"plugin", e.cfg.PluginName, "client", tr.Client.ID, "jti", stale.JTI)
			if err := e.stor.DisableRefreshTokensByJTI(ctx, e.cfg.PluginName, stale.JTI); err != nil {
				log.Errorw("disabling refresh siblings failed", "plugin", e.cfg.PluginName, "error", err)
			}
		}
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "refresh token is not valid")
	}
	if rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "refresh token was issued to a different client")
	}
	if rec.JKT != "" && (tr.DPoP == nil || tr.DPoP.JKT != rec.JKT) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "refresh token is DPoP-bound; matching proof required")
	}

	scopes := rec.Scopes
	if len(tr.Scope) > 0 {
		// Scope may only narrow on refresh.
		var narrowed []string
		for _, s := range tr.Scope {
			if hasScope(rec.Scopes, s) {
				narrowed = append(narrowed, s)
			} else {
				return nil, oidcerr.Protocol(oidcerr.CodeInvalidScope, "scope exceeds the original grant")
			}
		}
		scopes = narrowed
	}

	resource := rec.Resource
	if tr.Resource != "" && tr.Resource != rec.Resource {
		if !e.cfg.ResourceChangeAllowed {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidTarget, "resource change is not allowed on refresh")
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

	// cnf.jkt carries over from the original token; a fresh mTLS thumbprint
	// may replace x5t#S256.
	cnf := token.Confirmation{JKT: rec.JKT, X5TS256: tr.CertThumbprint}
	if cnf.X5TS256 == "" {
		cnf.X5TS256 = rec.X5TS256
	}

	in := mintInput{
		client:        tr.Client,
		username:      rec.Username,
		scopes:        scopes,
		resource:      resource,
		authDetails:   rec.AuthDetails,
		claimsRequest: claimsReq,
		cnf:           cnf,
		authorizeType:   "refresh_token",
		parentCodeID:    rec.ParentCodeID,
		parentRefreshID: rec.ID,
		includeID:       hasScope(scopes, "openid"),
		userAgent:       tr.UserAgent,
	}

	if e.oneUse(tr.Client) {
		if err := e.stor.DisableRefreshToken(ctx, e.cfg.PluginName, rec.ID); err != nil {
			return nil, oidcerr.Persistence(err, "rotating refresh token")
		}
		in.includeRefresh = true
		in.reuseJTI = rec.JTI
		return e.mintUserTokens(ctx, in)
	}

	now := time.Now()
	expires := rec.ExpiresAt
	if rec.Rolling {
		expires = now.Add(rec.Duration)
	}
	if err := e.stor.UpdateRefreshTokenLastSeen(ctx, e.cfg.PluginName, rec.ID, now, expires); err != nil {
		return nil, oidcerr.Persistence(err, "updating refresh token")
	}
	resp, err := e.mintUserTokens(ctx, in)
	if err != nil {
		return nil, err
	}
	// The caller keeps using the same refresh token.
	resp.RefreshToken = tr.RefreshToken
	return resp, nil
}
