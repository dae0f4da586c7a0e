// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ssoplugins/oidcauthz/pkg/flows"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

func (a *API) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(a.srv.DiscoveryDocument()))
}

func (a *API) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := a.srv.Keys().JWKS(r.Context())
	if err != nil {
		writeError(w, oidcerr.CryptoServer(err, "rendering public jwks"))
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) handleCheckSessionIFrame(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	_, _ = w.Write([]byte(a.srv.CheckSessionIFrame()))
}

// handleEndSession implements RP-initiated logout: the actual session
// teardown belongs to the host; this endpoint validates the redirect and
// bounces the browser.
func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	redirect := r.URL.Query().Get("post_logout_redirect_uri")
	if redirect == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	u, err := url.Parse(redirect)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		writeError(w, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "malformed post_logout_redirect_uri"))
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		q := u.Query()
		q.Set("state", state)
		u.RawQuery = q.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// handlePAR accepts a pushed authorization request: client authentication,
// then storage of the raw parameter set.
func (a *API) handlePAR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed request body"))
		return
	}
	auth, err := a.srv.ClientAuth().Authenticate(ctx, r, r.PostForm)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := a.srv.PAR().Push(ctx, auth.Client.ID, r.PostForm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleIntrospect answers RFC 7662, or the signed JWT variant when the
// Accept header asks for one.
func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed request body"))
		return
	}
	auth, err := a.srv.ClientAuth().Authenticate(ctx, r, r.PostForm)
	if err != nil {
		writeError(w, err)
		return
	}

	tokenStr := r.PostForm.Get("token")
	hint := r.PostForm.Get("token_type_hint")
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/token-introspection+jwt") || strings.Contains(accept, "application/jwt") {
		signed, err := a.srv.Introspection().IntrospectJWT(ctx, tokenStr, hint, auth.Client.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		noStore(w)
		w.Header().Set("Content-Type", "application/token-introspection+jwt")
		_, _ = w.Write([]byte(signed))
		return
	}
	resp, err := a.srv.Introspection().Introspect(ctx, tokenStr, hint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevoke implements RFC 7009.
func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed request body"))
		return
	}
	if _, err := a.srv.ClientAuth().Authenticate(ctx, r, r.PostForm); err != nil {
		writeError(w, err)
		return
	}
	if err := a.srv.Introspection().Revoke(ctx, r.PostForm.Get("token"), r.PostForm.Get("token_type_hint")); err != nil {
		writeError(w, err)
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusOK)
}

// handleUserinfo serves the UserInfo endpoint: bearer or DPoP-bound access
// token, claim assembly per the token's scopes, optional signing/encryption
// per client configuration.
func (a *API) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenStr, isDPoP := bearerToken(r)
	if tokenStr == "" {
		noStore(w)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	rec, err := a.srv.Store().FindAccessTokenByHash(ctx, a.srv.Config().PluginName, token.HashSecret(tokenStr))
	if err != nil && err != store.ErrNotFound {
		writeError(w, oidcerr.Persistence(err, "access token lookup failed"))
		return
	}
	if rec == nil || !rec.Enabled || time.Now().After(rec.ExpiresAt) || rec.Username == "" {
		noStore(w)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// A DPoP-bound token requires a fresh proof whose jkt matches; the
	// binding is recorded on the parent refresh token.
	if jkt := a.boundJKT(ctx, rec); jkt != "" {
		proof, err := a.validateDPoP(r, rec.ClientID)
		if err != nil || proof == nil || proof.JKT != jkt || !isDPoP {
			noStore(w)
			w.Header().Set("WWW-Authenticate", `DPoP error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	user, err := a.srv.Host().GetUser(ctx, rec.Username)
	if err != nil || user == nil {
		writeError(w, oidcerr.Persistence(err, "user directory lookup failed"))
		return
	}
	client, err := a.srv.Host().GetClient(ctx, rec.ClientID)
	if err != nil || client == nil {
		writeError(w, oidcerr.Persistence(err, "client directory lookup failed"))
		return
	}
	sub, err := a.srv.Subjects().Resolve(ctx, rec.Username, rec.ClientID, nil)
	if err != nil {
		writeError(w, oidcerr.Persistence(err, "subject resolution failed"))
		return
	}
	claimSet := a.srv.Assembler().Assemble(sub, user, rec.Scopes, nil)

	cfg := a.srv.Config()
	if client.PropertyTruthy(cfg.EncryptUserinfoProperty) || strings.Contains(r.Header.Get("Accept"), "application/jwt") {
		now := time.Now()
		claimSet["iss"] = cfg.Issuer
		claimSet["aud"] = rec.ClientID
		claimSet["iat"] = now.Unix()
		signed, err := a.srv.Tokens().SignClaims("", "token-userinfo+jwt", claimSet)
		if err != nil {
			writeError(w, oidcerr.CryptoServer(err, "signing userinfo response"))
			return
		}
		out, err := a.encryptUserinfo(ctx, client, signed)
		if err != nil {
			writeError(w, err)
			return
		}
		noStore(w)
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(out))
		return
	}
	writeJSON(w, http.StatusOK, claimSet)
}

// encryptUserinfo applies the client's userinfo encryption opt-in via the
// flow engine's shared encryption step.
func (a *API) encryptUserinfo(ctx context.Context, client *host.Client, signed string) (string, error) {
	return a.srv.Engine().EncryptForClient(ctx, client, flows.TokenTypeUserinfo, signed)
}

// boundJKT returns the DPoP thumbprint an access token was minted under,
// resolved through its parent refresh token's stored binding.
func (a *API) boundJKT(ctx context.Context, rec *store.AccessTokenRecord) string {
	if rec.ParentRefreshID == "" {
		return ""
	}
	tokens, err := a.srv.Store().ListRefreshTokens(ctx, a.srv.Config().PluginName, store.RefreshTokenFilter{
		Username: rec.Username, ClientID: rec.ClientID,
	})
	if err != nil {
		return ""
	}
	for _, t := range tokens {
		if t.ID == rec.ParentRefreshID {
			return t.JKT
		}
	}
	return ""
}

// bearerToken extracts the access token from the Authorization header,
// reporting whether the DPoP scheme was used.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(h, "Bearer "):
		return strings.TrimPrefix(h, "Bearer "), false
	case strings.HasPrefix(h, "DPoP "):
		return strings.TrimPrefix(h, "DPoP "), true
	default:
		return "", false
	}
}
