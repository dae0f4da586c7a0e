// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ory/fosite"

	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// handleDeviceAuthorization starts the device flow (RFC 8628 §3.1-3.2):
// client authentication, then the device/user code pair.
func (a *API) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
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
	scopes := fosite.RemoveEmpty(strings.Split(r.PostForm.Get("scope"), " "))
	verificationURI := a.srv.Config().BaseURL + "/" + a.srv.Config().PluginName + "/device"

	resp, err := a.srv.Engine().DeviceAuthorize(ctx, auth.Client, scopes,
		r.PostForm.Get("resource"), r.PostForm.Get("authorization_details"), verificationURI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeviceUI is the user-facing verification endpoint: validate the
// typed user code, require a host session (redirecting to login when
// absent), then mark the device record user-authorized.
func (a *API) handleDeviceUI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "code is required"))
		return
	}
	rec, err := a.srv.Engine().LookupUserCode(ctx, code)
	if err != nil {
		writeError(w, err)
		return
	}

	scopeStr := strings.Join(rec.Scopes, " ")
	session, err := a.srv.Host().CheckSessionValid(ctx, sessionToken(r), scopeStr)
	if err != nil {
		writeError(w, oidcerr.Persistence(err, "session validation failed"))
		return
	}
	if session == nil {
		callback := absoluteURL(r) + "?" + url.Values{"code": {code}, "g_continue": {"1"}}.Encode()
		loginURL := a.srv.Host().GetLoginURL(rec.ClientID, scopeStr, callback, nil)
		noStore(w)
		http.Redirect(w, r, loginURL, http.StatusFound)
		return
	}

	granted, err := a.srv.Host().GetClientGrantedScopes(ctx, rec.ClientID, session.Username, scopeStr)
	if err != nil {
		writeError(w, oidcerr.Persistence(err, "granted-scope lookup failed"))
		return
	}
	if len(granted) == 0 {
		writeError(w, oidcerr.Protocol(oidcerr.CodeAccessDenied, "no requested scope is granted to the device client"))
		return
	}
	if err := a.srv.Engine().ApproveDevice(ctx, rec, session.Username, session.AMR); err != nil {
		writeError(w, err)
		return
	}

	noStore(w)
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	_, _ = w.Write([]byte("<!DOCTYPE html><html><body><p>Device authorized. You can return to your device.</p></body></html>"))
}
