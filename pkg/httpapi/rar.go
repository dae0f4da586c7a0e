// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// rarConsentView is the wire shape of a stored RAR consent decision.
type rarConsentView struct {
	ClientID  string `json:"client_id"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Consent   bool   `json:"consent"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// rarSession requires a valid host session for the consent UI endpoints.
func (a *API) rarSession(r *http.Request) (*host.Session, error) {
	session, err := a.srv.Host().CheckSessionValid(r.Context(), sessionToken(r), "")
	if err != nil {
		return nil, oidcerr.Persistence(err, "session validation failed")
	}
	if session == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeAccessDenied, "a valid session is required")
	}
	return session, nil
}

// handleRARRead returns the caller's consent state for one (client, type).
func (a *API) handleRARRead(w http.ResponseWriter, r *http.Request) {
	session, err := a.rarSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	clientID, typ := chi.URLParam(r, "clientID"), chi.URLParam(r, "type")
	rec, err := a.srv.Store().FindRARConsent(r.Context(), a.srv.Config().PluginName, session.Username, clientID, typ)
	if err != nil && err != store.ErrNotFound {
		writeError(w, oidcerr.Persistence(err, "consent lookup failed"))
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, rarConsentView{ClientID: clientID, Type: typ})
		return
	}
	writeJSON(w, http.StatusOK, rarConsentView{
		ClientID: rec.ClientID, Type: rec.Type, Enabled: rec.Enabled,
		Consent: rec.Consent, UpdatedAt: rec.UpdatedAt.Unix(),
	})
}

// handleRARConsent records the caller's consent decision.
func (a *API) handleRARConsent(w http.ResponseWriter, r *http.Request) {
	session, err := a.rarSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Consent bool `json:"consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed consent body"))
		return
	}
	rec := &store.RARConsent{
		PluginName: a.srv.Config().PluginName,
		Username:   session.Username,
		ClientID:   chi.URLParam(r, "clientID"),
		Type:       chi.URLParam(r, "type"),
		Enabled:    true,
		Consent:    body.Consent,
		UpdatedAt:  time.Now(),
	}
	if err := a.srv.Store().UpsertRARConsent(r.Context(), rec); err != nil {
		writeError(w, oidcerr.Persistence(err, "storing consent"))
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleRARDelete removes the caller's consent record.
func (a *API) handleRARDelete(w http.ResponseWriter, r *http.Request) {
	session, err := a.rarSession(r)
	if err != nil {
		writeError(w, err)
		return
	}
	clientID, typ := chi.URLParam(r, "clientID"), chi.URLParam(r, "type")
	if err := a.srv.Store().DeleteRARConsent(r.Context(), a.srv.Config().PluginName, session.Username, clientID, typ); err != nil {
		writeError(w, oidcerr.Persistence(err, "deleting consent"))
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusNoContent)
}
