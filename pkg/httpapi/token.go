// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ory/fosite"

	"github.com/ssoplugins/oidcauthz/pkg/dpop"
	"github.com/ssoplugins/oidcauthz/pkg/flows"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// handleToken is the back channel: client authentication, optional
// DPoP proof validation, then grant dispatch.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
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

	proof, err := a.validateDPoP(r, auth.Client.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	tr := &flows.TokenRequest{
		GrantType:      r.PostForm.Get("grant_type"),
		Code:           r.PostForm.Get("code"),
		RedirectURI:    r.PostForm.Get("redirect_uri"),
		CodeVerifier:   r.PostForm.Get("code_verifier"),
		RefreshToken:   r.PostForm.Get("refresh_token"),
		Username:       r.PostForm.Get("username"),
		Password:       r.PostForm.Get("password"),
		Scope:          fosite.Arguments(fosite.RemoveEmpty(strings.Split(r.PostForm.Get("scope"), " "))),
		Resource:       r.PostForm.Get("resource"),
		DeviceCode:     r.PostForm.Get("device_code"),
		Token:          r.PostForm.Get("token"),
		Client:         auth.Client,
		AuthMethod:     auth.Method,
		DPoP:           proof,
		CertThumbprint: auth.CertThumbprint,
		UserAgent:      r.UserAgent(),
	}

	resp, err := a.srv.Engine().Token(ctx, tr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// validateDPoP checks a DPoP header when present; absent headers are not an
// error at the token endpoint (binding is opt-in per request).
func (a *API) validateDPoP(r *http.Request, clientID string) (*dpop.Proof, error) {
	header := r.Header.Get("DPoP")
	if header == "" {
		return nil, nil
	}
	return a.srv.DPoP().Validate(r.Context(), clientID, header, r.Method, absoluteURL(r))
}

// refreshTokenView is the token-listing item shape; hashes identify tokens
// for DELETE without exposing the token itself.
type refreshTokenView struct {
	Hash      string `json:"hash"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	IssuedFor string `json:"issued_for,omitempty"`
	IssuedAt  int64  `json:"issued_at"`
	LastSeen  int64  `json:"last_seen"`
	ExpiresAt int64  `json:"expires_at"`
	Rolling   bool   `json:"rolling"`
}

// handleTokenList lets a session-authenticated user enumerate their live
// refresh tokens: paginated, sortable, pattern-matchable.
func (a *API) handleTokenList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := a.srv.Host().CheckSessionValid(ctx, sessionToken(r), "")
	if err != nil {
		writeError(w, oidcerr.Persistence(err, "session validation failed"))
		return
	}
	if session == nil {
		writeError(w, oidcerr.Protocol(oidcerr.CodeAccessDenied, "a valid session is required"))
		return
	}

	q := r.URL.Query()
	filter := store.RefreshTokenFilter{
		Username:      session.Username,
		ClientID:      q.Get("client_id"),
		UserAgentLike: q.Get("user_agent"),
		IssuedForLike: q.Get("issued_for"),
		SortBy:        q.Get("sort"),
		Descending:    q.Get("order") == "desc",
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		filter.Limit = v
	}

	tokens, err := a.srv.Store().ListRefreshTokens(ctx, a.srv.Config().PluginName, filter)
	if err != nil {
		writeError(w, oidcerr.Persistence(err, "listing refresh tokens"))
		return
	}
	views := make([]refreshTokenView, 0, len(tokens))
	now := time.Now()
	for _, t := range tokens {
		if !t.Enabled || now.After(t.ExpiresAt) {
			continue
		}
		views = append(views, refreshTokenView{
			Hash:      t.TokenHash,
			ClientID:  t.ClientID,
			Scope:     strings.Join(t.Scopes, " "),
			IssuedAt:  t.IssuedAt.Unix(),
			LastSeen:  t.LastSeenAt.Unix(),
			ExpiresAt: t.ExpiresAt.Unix(),
			Rolling:   t.Rolling,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleTokenDelete disables one of the caller's refresh tokens by hash.
func (a *API) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := a.srv.Host().CheckSessionValid(ctx, sessionToken(r), "")
	if err != nil || session == nil {
		writeError(w, oidcerr.Protocol(oidcerr.CodeAccessDenied, "a valid session is required"))
		return
	}
	hash := chi.URLParam(r, "hash")
	rec, err := a.srv.Store().FindRefreshTokenByHashAny(ctx, a.srv.Config().PluginName, hash)
	if err != nil && err != store.ErrNotFound {
		writeError(w, oidcerr.Persistence(err, "refresh token lookup failed"))
		return
	}
	if rec == nil || rec.Username != session.Username {
		writeError(w, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "no such token"))
		return
	}
	if err := a.srv.Store().DisableRefreshToken(ctx, a.srv.Config().PluginName, rec.ID); err != nil {
		writeError(w, oidcerr.Persistence(err, "disabling refresh token"))
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusNoContent)
}
