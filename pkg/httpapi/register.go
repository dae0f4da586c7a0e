// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssoplugins/oidcauthz/pkg/dcr"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// handleRegister creates a client via dynamic registration. When
// register-client-auth-scope is configured the caller must present a live
// bearer token carrying those scopes; otherwise registration is open.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	initialAccessID, err := a.checkRegisterAuth(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var meta dcr.Metadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed registration body"))
		return
	}
	resp, err := a.srv.DCR().Register(ctx, meta, initialAccessID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// checkRegisterAuth validates the initial-access bearer token when the
// configuration demands one, returning the token record's id for linkage.
func (a *API) checkRegisterAuth(r *http.Request) (string, error) {
	scopes := a.srv.Config().RegisterClientAuthScopes
	if len(scopes) == 0 {
		return "", nil
	}
	bearer, _ := bearerToken(r)
	if bearer == "" {
		return "", oidcerr.Protocol(oidcerr.CodeAccessDenied, "an initial access token is required")
	}
	rec, err := a.srv.Store().FindAccessTokenByHash(r.Context(), a.srv.Config().PluginName, token.HashSecret(bearer))
	if err != nil && err != store.ErrNotFound {
		return "", oidcerr.Persistence(err, "initial access token lookup failed")
	}
	if rec == nil || !rec.Enabled || time.Now().After(rec.ExpiresAt) {
		return "", oidcerr.Protocol(oidcerr.CodeAccessDenied, "invalid initial access token")
	}
	for _, required := range scopes {
		found := false
		for _, s := range rec.Scopes {
			if s == required {
				found = true
				break
			}
		}
		if !found {
			return "", oidcerr.Protocol(oidcerr.CodeAccessDenied, "initial access token lacks a required scope")
		}
	}
	return rec.ID, nil
}

// managementToken extracts the registration access token from the
// Authorization header.
func managementToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

func (a *API) handleRegisterRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "clientID")
	if _, err := a.srv.DCR().Authorize(ctx, clientID, managementToken(r)); err != nil {
		writeError(w, err)
		return
	}
	meta, err := a.srv.DCR().Read(ctx, clientID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleRegisterUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "clientID")
	if _, err := a.srv.DCR().Authorize(ctx, clientID, managementToken(r)); err != nil {
		writeError(w, err)
		return
	}
	var meta dcr.Metadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed registration body"))
		return
	}
	updated, err := a.srv.DCR().Update(ctx, clientID, meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleRegisterDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := chi.URLParam(r, "clientID")
	if _, err := a.srv.DCR().Authorize(ctx, clientID, managementToken(r)); err != nil {
		writeError(w, err)
		return
	}
	if err := a.srv.DCR().Delete(ctx, clientID); err != nil {
		writeError(w, err)
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusNoContent)
}
