// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package request implements the single authorization-request pipeline
//: body parsing, PAR/JAR source resolution, parameter merging,
// response-type and PKCE rules, scope reduction, resource binding, RAR
// validation, and prompt/max_age handling.
package request

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ory/fosite"

	"github.com/ssoplugins/oidcauthz/pkg/claims"
	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// Config is the validator's static configuration. Property names are the
// configurable client-property keys the pipeline reads.
type Config struct {
	PluginName string
	Issuer     string

	PAREnabled  bool
	PARRequired bool
	// PARPrefix is the request_uri prefix pushed handles carry.
	PARPrefix string

	JAREnabled   bool
	AllowNonOIDC bool

	AllowPlainPKCE bool

	// RestrictScopeProperty, when set, names the client property whose
	// space-separated value whitelists requestable scopes.
	RestrictScopeProperty string

	// ResourceScopeWhitelist maps scope -> allowed resource URIs.
	ResourceScopeWhitelist map[string][]string
	// ResourceClientProperty names the client property carrying a
	// space-separated resource whitelist.
	ResourceClientProperty string
	// ResourceScopeAndClient requires a resource to pass both whitelists
	// when both are configured.
	ResourceScopeAndClient bool

	// RARTypes declares the recognized authorization_details types.
	RARTypes []RARType
	// RARTypesClientProperty names the client property listing the types a
	// client may request (space-separated).
	RARTypesClientProperty string

	// Client key-material property names, shared with clientauth.
	JWKSProperty    string
	JWKSURIProperty string
	PubkeyProperty  string
}

// PARBacking is the narrow store contract for resolving pushed requests.
type PARBacking interface {
	FindPARByHash(ctx context.Context, pluginName, hash string) (*store.PushedAuthorizationRequest, error)
	UpdatePARStatus(ctx context.Context, pluginName, id string, status store.PARStatus) error
}

// HintBacking resolves the last ID token issued to (client, user) for
// id_token_hint checking under prompt=none.
type HintBacking interface {
	LastIDTokenFor(ctx context.Context, pluginName, clientID, username string) (*store.IDTokenRecord, error)
}

// AuthorizationRequest is the fully validated, typed view of one /auth
// request the flow engines consume.
type AuthorizationRequest struct {
	ClientID      string
	RedirectURI   string
	ResponseTypes fosite.Arguments
	ResponseMode  string
	Scopes        fosite.Arguments
	State         string
	Nonce         string
	Prompt        []string
	// MaxAge is the requested max_age in seconds, -1 when absent.
	MaxAge int64

	CodeChallenge       string // stored form: literal, or "{SHA256}<b64url>"
	CodeChallengeMethod string

	Resource       string
	ClaimsRaw      string
	Claims         *claims.ClaimsRequest
	AuthDetailsRaw string
	AuthDetails    []RARDetail
	IDTokenHint    string

	// GContinue marks a return from the login UI.
	GContinue bool
	// RequestPAR marks a request sourced from a pushed authorization
	// request; PARRecordID identifies it for status finalization.
	RequestPAR  bool
	PARRecordID string

	// RawParams is the merged parameter set, kept for login-redirect
	// round-tripping.
	RawParams url.Values
}

// HasPrompt reports whether p was requested.
func (r *AuthorizationRequest) HasPrompt(p string) bool {
	for _, v := range r.Prompt {
		if v == p {
			return true
		}
	}
	return false
}

// Validator runs the pipeline.
type Validator struct {
	cfg  Config
	dir  host.Directory
	pars PARBacking
	hc   *http.Client
}

// New builds a Validator. hc may be nil; JAR-by-reference fetches then use a
// default client with a bounded timeout.
func New(cfg Config, dir host.Directory, pars PARBacking, hc *http.Client) *Validator {
	return &Validator{cfg: cfg, dir: dir, pars: pars, hc: hc}
}

// ValidateAuthorize runs the full validation pipeline on an incoming /auth
// request, returning the typed request and the resolved client.
func (v *Validator) ValidateAuthorize(ctx context.Context, r *http.Request) (*AuthorizationRequest, *host.Client, error) {
	params, err := parseParams(r)
	if err != nil {
		return nil, nil, err
	}

	params, sourced, parID, err := v.resolveSource(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "client_id is required")
	}
	client, err := v.dir.GetClient(ctx, clientID)
	if err != nil {
		return nil, nil, oidcerr.Persistence(err, "client directory lookup failed")
	}
	if client == nil {
		return nil, nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "unknown client")
	}

	req, err := v.buildRequest(params, client)
	if err != nil {
		return nil, nil, err
	}
	req.RequestPAR = sourced
	req.PARRecordID = parID

	if err := v.validateResponseTypes(req, client); err != nil {
		return nil, nil, err
	}
	if err := v.validatePKCEChallenge(req); err != nil {
		return nil, nil, err
	}
	if err := v.reduceScopes(req, client); err != nil {
		return nil, nil, err
	}
	if err := v.validateResource(req, client); err != nil {
		return nil, nil, err
	}
	if err := v.validateAuthDetails(req, client); err != nil {
		return nil, nil, err
	}
	return req, client, nil
}

func parseParams(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed request body")
		}
		return r.PostForm, nil
	}
	return r.URL.Query(), nil
}

// resolveSource picks the parameter source: pushed-request handle first, then JAR,
// then plain parameters. Returns the effective parameter set, whether a PAR
// record sourced it, and the record's id.
func (v *Validator) resolveSource(ctx context.Context, params url.Values) (url.Values, bool, string, error) {
	requestURI := params.Get("request_uri")
	requestJWT := params.Get("request")

	if v.cfg.PAREnabled && requestURI != "" && strings.HasPrefix(requestURI, v.cfg.PARPrefix) {
		stored, id, err := v.consumePAR(ctx, requestURI)
		if err != nil {
			return nil, false, "", err
		}
		merged, err := v.mergeParams(ctx, params, stored)
		if err != nil {
			return nil, false, "", err
		}
		return merged, true, id, nil
	}
	if v.cfg.PARRequired {
		return nil, false, "", oidcerr.Protocol(oidcerr.CodeInvalidRequest, "pushed authorization request is required")
	}

	if requestJWT != "" && requestURI != "" {
		return nil, false, "", oidcerr.Protocol(oidcerr.CodeInvalidRequest, "request and request_uri are mutually exclusive")
	}
	if (requestJWT != "" || requestURI != "") && v.cfg.JAREnabled {
		signed, err := v.resolveJAR(ctx, params, requestJWT, requestURI)
		if err != nil {
			return nil, false, "", err
		}
		merged, err := mergeSigned(params, signed)
		if err != nil {
			return nil, false, "", err
		}
		return merged, false, "", nil
	}
	return params, false, "", nil
}

// consumePAR resolves a pushed handle, enforcing its expiry and single-use
// status transition (0 fresh -> 1 consumed-once).
func (v *Validator) consumePAR(ctx context.Context, requestURI string) (url.Values, string, error) {
	rec, err := v.pars.FindPARByHash(ctx, v.cfg.PluginName, token.HashSecret(requestURI))
	if err != nil || rec == nil {
		return nil, "", oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unknown request_uri")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, "", oidcerr.Protocol(oidcerr.CodeInvalidRequest, "request_uri expired")
	}
	if rec.Status == store.PARFinalized {
		return nil, "", oidcerr.Protocol(oidcerr.CodeInvalidRequest, "request_uri already used")
	}
	if rec.Status == store.PARFresh {
		if err := v.pars.UpdatePARStatus(ctx, v.cfg.PluginName, rec.ID, store.PARConsumedOnce); err != nil {
			return nil, "", oidcerr.Persistence(err, "updating pushed request status")
		}
	}
	stored, err := url.ParseQuery(rec.Params)
	if err != nil {
		return nil, "", oidcerr.Persistence(err, "stored pushed request is unreadable")
	}
	return stored, rec.ID, nil
}

// mergeParams merges PAR-stored parameters with URL parameters. Stored
// values win; if the stored set itself carries a JAR request object the JAR
// rules still apply.
func (v *Validator) mergeParams(ctx context.Context, urlParams, stored url.Values) (url.Values, error) {
	if jar := stored.Get("request"); jar != "" && v.cfg.JAREnabled {
		signed, err := v.resolveJAR(ctx, stored, jar, "")
		if err != nil {
			return nil, err
		}
		merged, err := mergeSigned(stored, signed)
		if err != nil {
			return nil, err
		}
		stored = merged
	}
	out := url.Values{}
	for k, vals := range stored {
		out[k] = vals
	}
	for k, vals := range urlParams {
		if k == "request_uri" {
			continue
		}
		if _, present := out[k]; !present {
			out[k] = vals
		}
	}
	return out, nil
}

// mergeSigned merges signed request-object members: any URL parameter differing from the
// signed value is rejected; missing URL parameters are supplied from the
// request object.
func mergeSigned(urlParams, signed url.Values) (url.Values, error) {
	out := url.Values{}
	for k, vals := range signed {
		out[k] = vals
	}
	for k, vals := range urlParams {
		if k == "request" || k == "request_uri" {
			continue
		}
		sv, present := out[k]
		if present && len(vals) > 0 && (len(sv) == 0 || sv[0] != vals[0]) {
			if k == "client_id" {
				// Invariant 9: a contradicting client_id is an outright
				// authentication failure, not a plain invalid_request.
				return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "request object client_id contradicts URL parameter")
			}
			return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, nil, "parameter %q contradicts signed request object", k)
		}
		if !present {
			out[k] = vals
		}
	}
	return out, nil
}

func (v *Validator) buildRequest(params url.Values, client *host.Client) (*AuthorizationRequest, error) {
	req := &AuthorizationRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		ResponseTypes:       fosite.Arguments(fosite.RemoveEmpty(strings.Split(params.Get("response_type"), " "))),
		ResponseMode:        params.Get("response_mode"),
		Scopes:              fosite.Arguments(fosite.RemoveEmpty(strings.Split(params.Get("scope"), " "))),
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		Prompt:              fosite.RemoveEmpty(strings.Split(params.Get("prompt"), " ")),
		MaxAge:              -1,
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
		Resource:            params.Get("resource"),
		ClaimsRaw:           params.Get("claims"),
		AuthDetailsRaw:      params.Get("authorization_details"),
		IDTokenHint:         params.Get("id_token_hint"),
		GContinue:           params.Get("g_continue") != "",
		RawParams:           params,
	}
	if ma := params.Get("max_age"); ma != "" {
		n, err := strconv.ParseInt(ma, 10, 64)
		if err != nil || n < 0 {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "malformed max_age")
		}
		req.MaxAge = n
	}
	if req.ClaimsRaw != "" {
		parsed, err := ParseClaimsRequest(req.ClaimsRaw)
		if err != nil {
			return nil, err
		}
		req.Claims = parsed
	}
	if req.RedirectURI == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "redirect_uri is required")
	}
	if !redirectAllowed(client, req.RedirectURI) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "redirect_uri is not registered for client")
	}
	if req.HasPrompt("none") && len(req.Prompt) > 1 {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "prompt=none cannot be combined with other prompts")
	}
	return req, nil
}

func redirectAllowed(client *host.Client, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

var validResponseTypes = []fosite.Arguments{
	{"code"}, {"token"}, {"id_token"},
	{"code", "token"}, {"code", "id_token"}, {"id_token", "token"},
	{"code", "id_token", "token"}, {"none"},
}

// validateResponseTypes enforces the response_type rules: non-empty, a known combination,
// openid scope unless allow-non-oidc, nonce whenever id_token is requested
// or openid is in scope.
func (v *Validator) validateResponseTypes(req *AuthorizationRequest, client *host.Client) error {
	if len(req.ResponseTypes) == 0 {
		return oidcerr.Protocol(oidcerr.CodeUnsupportedResponseType, "response_type is required")
	}
	known := false
	for _, combo := range validResponseTypes {
		if req.ResponseTypes.Matches(combo...) && len(req.ResponseTypes) == len(combo) {
			known = true
			break
		}
	}
	if !known {
		return oidcerr.Protocol(oidcerr.CodeUnsupportedResponseType, "unsupported response_type combination")
	}
	if len(client.ResponseTypes) > 0 {
		for _, rt := range req.ResponseTypes {
			if !fosite.Arguments(client.ResponseTypes).Has(rt) {
				return oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "response_type not allowed for client")
			}
		}
	}
	openid := req.Scopes.Has("openid")
	if !openid && !v.cfg.AllowNonOIDC {
		return oidcerr.Protocol(oidcerr.CodeInvalidScope, "openid scope is required")
	}
	if (req.ResponseTypes.Has("id_token") || openid) && req.Nonce == "" {
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "nonce is required")
	}
	return nil
}

// reduceScopes intersects requested scopes with the
// client property whitelist when configured; an empty result is
// invalid_scope.
func (v *Validator) reduceScopes(req *AuthorizationRequest, client *host.Client) error {
	if v.cfg.RestrictScopeProperty == "" {
		return nil
	}
	raw, ok := client.Property(v.cfg.RestrictScopeProperty)
	if !ok {
		return nil
	}
	allowed := fosite.RemoveEmpty(strings.Split(raw, " "))
	var kept fosite.Arguments
	for _, s := range req.Scopes {
		if fosite.ExactScopeStrategy(allowed, s) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return oidcerr.Protocol(oidcerr.CodeInvalidScope, "no requested scope is allowed for client")
	}
	req.Scopes = kept
	return nil
}

// validateResource requires an http(s) resource URI, no fragment, and matched
// against the per-scope and/or per-client whitelists.
func (v *Validator) validateResource(req *AuthorizationRequest, client *host.Client) error {
	if req.Resource == "" {
		return nil
	}
	u, err := url.Parse(req.Resource)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Fragment != "" {
		return oidcerr.Protocol(oidcerr.CodeInvalidTarget, "resource must be an http(s) URI without fragment")
	}

	scopeOK := resourceInScopeWhitelist(v.cfg.ResourceScopeWhitelist, req.Scopes, req.Resource)
	clientOK := false
	clientConfigured := false
	if v.cfg.ResourceClientProperty != "" {
		if raw, ok := client.Property(v.cfg.ResourceClientProperty); ok {
			clientConfigured = true
			clientOK = fosite.ExactScopeStrategy(fosite.RemoveEmpty(strings.Split(raw, " ")), req.Resource)
		}
	}

	scopeConfigured := len(v.cfg.ResourceScopeWhitelist) > 0
	switch {
	case !scopeConfigured && !clientConfigured:
		return nil
	case v.cfg.ResourceScopeAndClient && scopeConfigured && clientConfigured:
		if scopeOK && clientOK {
			return nil
		}
	case scopeConfigured && scopeOK:
		return nil
	case clientConfigured && clientOK:
		return nil
	}
	return oidcerr.Protocol(oidcerr.CodeInvalidTarget, "resource is not permitted for client or scope")
}

func resourceInScopeWhitelist(whitelist map[string][]string, scopes []string, resource string) bool {
	for _, s := range scopes {
		for _, allowed := range whitelist[s] {
			if allowed == resource {
				return true
			}
		}
	}
	return false
}

// VerifyIDTokenHint checks an id_token_hint under prompt=none: the hint must
// verify under our published keys and match the last ID token issued to
// (client, user).
func VerifyIDTokenHint(ctx context.Context, keys oidccrypto.Provider, hints HintBacking, pluginName, clientID, username, hint string) error {
	set, err := keys.JWKS(ctx)
	if err != nil {
		return oidcerr.CryptoServer(err, "loading verification keys")
	}
	if !verifyWithSet(hint, set) {
		return oidcerr.CryptoClient(nil, "id_token_hint signature verification failed")
	}
	last, err := hints.LastIDTokenFor(ctx, pluginName, clientID, username)
	if err != nil {
		return oidcerr.Persistence(err, "id token ledger lookup failed")
	}
	if last == nil || last.Hash != token.HashSecret(hint) {
		return oidcerr.Protocol(oidcerr.CodeLoginRequired, "id_token_hint does not match the last issued id token")
	}
	return nil
}
