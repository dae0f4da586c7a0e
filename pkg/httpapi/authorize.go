// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/consent"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/request"
)

// handleAuthorize drives the authorization endpoint: request validation,
// session/consent evaluation, then either a redirect to the host login UI
// or the front-channel response.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, client, err := a.srv.RequestValidator().ValidateAuthorize(ctx, r)
	if err != nil {
		// Until the redirect_uri is validated nothing may be redirected to.
		writeError(w, err)
		return
	}

	promptNone := req.HasPrompt("none")
	forceLogin := (req.HasPrompt("login") || req.HasPrompt("consent") || req.HasPrompt("select_account")) && !req.GContinue

	decision, err := a.srv.ConsentBridge().Evaluate(ctx, sessionToken(r), client.ID, req.Scopes, promptNone, forceLogin, req.MaxAge)
	if err != nil {
		redirectError(w, r, req.RedirectURI, req.State, errorResponseMode(req), err)
		return
	}

	if decision.Outcome == consent.OutcomeRedirectLogin {
		a.redirectToLogin(w, r, req, client.ID)
		return
	}

	if promptNone && req.IDTokenHint != "" {
		err := request.VerifyIDTokenHint(ctx, a.srv.Keys(), a.srv.Store(),
			a.srv.Config().PluginName, client.ID, decision.Session.Username, req.IDTokenHint)
		if err != nil {
			redirectError(w, r, req.RedirectURI, req.State, errorResponseMode(req), err)
			return
		}
	}

	result, err := a.srv.Engine().Authorize(ctx, req, client, decision, r.UserAgent())
	if err != nil {
		redirectError(w, r, req.RedirectURI, req.State, errorResponseMode(req), err)
		return
	}

	if req.RequestPAR {
		if perr := a.srv.PAR().Finalize(ctx, req.PARRecordID); perr != nil {
			log.Warnw("finalizing pushed request failed", "plugin", a.srv.Config().PluginName, "error", perr)
		}
	}

	noStore(w)
	if result.FormPostHTML != "" {
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		_, _ = w.Write([]byte(result.FormPostHTML))
		return
	}
	http.Redirect(w, r, result.RedirectURI, http.StatusFound)
}

// errorResponseMode picks where front-channel error parameters land:
// fragment for any flow carrying a token, else query.
func errorResponseMode(req *request.AuthorizationRequest) string {
	if req.ResponseMode == "fragment" || req.ResponseTypes.HasOneOf("token", "id_token") {
		return "fragment"
	}
	return "query"
}

// redirectToLogin bounces the browser to the host login UI with a callback
// that replays the authorization request with g_continue set.
func (a *API) redirectToLogin(w http.ResponseWriter, r *http.Request, req *request.AuthorizationRequest, clientID string) {
	callback := absoluteURL(r)
	params := url.Values{}
	for k, vals := range req.RawParams {
		for _, v := range vals {
			params.Add(k, v)
		}
	}
	params.Set("g_continue", "1")
	callback = callback + "?" + params.Encode()

	extra := url.Values{}
	if len(req.Prompt) > 0 {
		extra.Set("prompt", strings.Join(req.Prompt, " "))
	}
	loginURL := a.srv.Host().GetLoginURL(clientID, strings.Join(req.Scopes, " "), callback, extra)
	if loginURL == "" {
		writeError(w, oidcerr.Protocol(oidcerr.CodeServerError, "host produced no login url"))
		return
	}
	noStore(w)
	http.Redirect(w, r, loginURL, http.StatusFound)
}
