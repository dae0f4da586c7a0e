// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package httpapi mounts the plugin's endpoint surface on a chi
// router. The host owns the HTTP server and TLS termination; this package
// only contributes the handler tree, which the host mounts under the plugin
// name prefix.
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/oidc"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// API serves one plugin instance.
type API struct {
	srv *oidc.Server
}

// New builds the API around a wired Server.
func New(srv *oidc.Server) *API {
	return &API{srv: srv}
}

// Router assembles the endpoint tree. The host mounts it at
// /<plugin-name>/.
func (a *API) Router() chi.Router {
	cfg := a.srv.Config()
	r := chi.NewRouter()

	r.Get("/.well-known/openid-configuration", a.handleDiscovery)
	r.Get("/jwks", a.handleJWKS)

	r.Get("/auth", a.handleAuthorize)
	r.Post("/auth", a.handleAuthorize)

	r.Post("/token", a.handleToken)
	r.Get("/token", a.handleTokenList)
	r.Delete("/token/{hash}", a.handleTokenDelete)

	r.Get("/userinfo", a.handleUserinfo)
	r.Post("/userinfo", a.handleUserinfo)

	r.Post("/introspect", a.handleIntrospect)
	r.Post("/revoke", a.handleRevoke)

	if cfg.PAREnabled {
		r.Post("/par", a.handlePAR)
	}
	if cfg.FlowEnabled(oidc.FlowDevice) {
		r.Post("/device_authorization", a.handleDeviceAuthorization)
		r.Get("/device", a.handleDeviceUI)
	}
	if a.srv.DCR() != nil {
		r.Post("/register", a.handleRegister)
		r.Get("/register/{clientID}", a.handleRegisterRead)
		r.Put("/register/{clientID}", a.handleRegisterUpdate)
		r.Delete("/register/{clientID}", a.handleRegisterDelete)
	}

	r.Get("/end_session", a.handleEndSession)
	r.Get("/check_session_iframe", a.handleCheckSessionIFrame)

	r.Get("/rar/{clientID}/{type}", a.handleRARRead)
	r.Put("/rar/{clientID}/{type}/consent", a.handleRARConsent)
	r.Delete("/rar/{clientID}/{type}", a.handleRARDelete)

	if cfg.ClientCertUseEndpointAliases {
		// mTLS aliases carry the same handlers; the host routes TLS-client-
		// certificate traffic here so the cert header/state is present.
		r.Route("/mtls", func(m chi.Router) {
			m.Post("/token", a.handleToken)
			m.Post("/introspect", a.handleIntrospect)
			m.Post("/revoke", a.handleRevoke)
			m.Get("/userinfo", a.handleUserinfo)
			m.Post("/userinfo", a.handleUserinfo)
			if cfg.PAREnabled {
				m.Post("/par", a.handlePAR)
			}
			if cfg.FlowEnabled(oidc.FlowDevice) {
				m.Post("/device_authorization", a.handleDeviceAuthorization)
			}
		})
	}

	return r
}

// noStore applies the cache/referrer headers every response carries.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Referrer-Policy", "no-referrer")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	noStore(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the RFC 6749 error response shape.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeError renders err as a JSON error response, deriving code and status
// from the typed error. Non-typed errors become server_error.
func writeError(w http.ResponseWriter, err error) {
	oe, ok := oidcerr.As(err)
	if !ok {
		log.Errorw("unclassified handler error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: string(oidcerr.CodeServerError)})
		return
	}
	if oe.Kind != oidcerr.KindProtocol {
		log.Errorw("request failed", "code", oe.Code, "error", oe)
	}
	writeJSON(w, oe.Status(), errorBody{Error: string(oe.Code), ErrorDescription: oe.Description})
}

// redirectError sends a front-channel error to the relying party per the
// response mode: 302 with query or fragment parameters. When no safe
// redirect target exists the error is rendered directly instead.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, responseMode string, err error) {
	oe, ok := oidcerr.As(err)
	if !ok {
		oe = oidcerr.Protocol(oidcerr.CodeServerError, "internal error")
	}
	if redirectURI == "" {
		writeError(w, oe)
		return
	}
	target, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		writeError(w, oe)
		return
	}
	params := url.Values{}
	params.Set("error", string(oe.Code))
	if oe.Description != "" {
		params.Set("error_description", oe.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	if responseMode == "fragment" {
		target.Fragment = params.Encode()
	} else {
		q := target.Query()
		for k, vals := range params {
			q.Set(k, vals[0])
		}
		target.RawQuery = q.Encode()
	}
	noStore(w)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// sessionToken extracts the opaque value the host's session callbacks key
// on; the host validates whatever cookie scheme it uses.
func sessionToken(r *http.Request) string {
	return r.Header.Get("Cookie")
}

// absoluteURL reconstructs the request's absolute URL for DPoP htu and
// login-callback purposes, trusting the standard forwarding headers the
// host's proxy sets.
func absoluteURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path}
	return u.String()
}
