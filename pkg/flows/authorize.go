// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/consent"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/request"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// AuthorizeResult is the front-channel outcome: either a redirect target or
// an auto-posting HTML form when response_mode=form_post.
type AuthorizeResult struct {
	RedirectURI  string
	FormPostHTML string
}

// Authorize serves the front channel for every response-type combination
// (code, implicit, hybrid, none) after the consent bridge has decided to
// proceed.
func (e *Engine) Authorize(ctx context.Context, req *request.AuthorizationRequest, client *host.Client, decision *consent.Decision, userAgent string) (*AuthorizeResult, error) {
	if decision.Outcome != consent.OutcomeProceed {
		return nil, oidcerr.Protocol(oidcerr.CodeServerError, "authorize called without a proceed decision")
	}
	session := decision.Session
	scopes := decision.Scopes

	out := url.Values{}
	if req.State != "" {
		out.Set("state", req.State)
	}

	flowTypes := store.FlowTypeFlags{
		Code:    req.ResponseTypes.Has("code"),
		Token:   req.ResponseTypes.Has("token"),
		IDToken: req.ResponseTypes.Has("id_token"),
	}

	var code string
	if flowTypes.Code {
		minted, err := e.mintCode(ctx, req, client, session, scopes, decision.AMR, flowTypes, userAgent)
		if err != nil {
			return nil, err
		}
		code = minted
		out.Set("code", code)
	}

	var accessJWT string
	if flowTypes.Token {
		jwt, err := e.mintImplicitAccess(ctx, req, client, session, scopes)
		if err != nil {
			return nil, err
		}
		accessJWT = jwt
		encrypted, err := e.encryptFor(ctx, client, TokenTypeAccess, jwt)
		if err != nil {
			return nil, err
		}
		out.Set("access_token", encrypted)
		out.Set("token_type", "bearer")
		out.Set("expires_in", fmt.Sprintf("%d", int64(e.cfg.AccessTokenLifespan.Seconds())))
	}

	if flowTypes.IDToken {
		user, err := e.h.GetUser(ctx, session.Username)
		if err != nil || user == nil {
			return nil, oidcerr.Persistence(err, "user directory lookup failed")
		}
		sub, err := e.subjects.Resolve(ctx, session.Username, client.ID, sectorSource{e.h})
		if err != nil {
			return nil, oidcerr.Persistence(err, "subject resolution failed")
		}
		in := mintInput{
			client:        client,
			username:      session.Username,
			scopes:        scopes,
			claimsRequest: req.Claims,
			amr:           decision.AMR,
			nonce:         req.Nonce,
			authTime:      session.StartedAt,
		}
		idJWT, err := e.mintIDToken(ctx, in, user, sub, accessJWT, code)
		if err != nil {
			return nil, err
		}
		encrypted, err := e.encryptFor(ctx, client, TokenTypeID, idJWT)
		if err != nil {
			return nil, err
		}
		out.Set("id_token", encrypted)
	}

	log.Infow("authorization granted",
		"plugin", e.cfg.PluginName, "client", client.ID, "response_type", strings.Join(req.ResponseTypes, " "))

	return buildResponse(req, out)
}

// mintCode mints and records an authorization code.
func (e *Engine) mintCode(ctx context.Context, req *request.AuthorizationRequest, client *host.Client, session *host.Session, scopes, amr []string, flowTypes store.FlowTypeFlags, userAgent string) (string, error) {
	code, err := token.NewAuthorizationCode()
	if err != nil {
		return "", oidcerr.CryptoServer(err, "minting authorization code")
	}
	var claimsJSON string
	if req.Claims != nil {
		if raw, err := json.Marshal(req.Claims); err == nil {
			claimsJSON = string(raw)
		}
	}
	rec := &store.AuthorizationCode{
		ID:             uuid.NewString(),
		PluginName:     e.cfg.PluginName,
		Username:       session.Username,
		ClientID:       client.ID,
		RedirectURI:    req.RedirectURI,
		CodeHash:       token.HashSecret(code),
		IssuedFor:      req.Resource,
		UserAgent:      userAgent,
		Nonce:          req.Nonce,
		ResourceURI:    req.Resource,
		ClaimsRequest:  claimsJSON,
		AuthDetails:    req.AuthDetailsRaw,
		FlowTypes:      flowTypes,
		ExpiresAt:      time.Now().Add(e.cfg.AuthCodeLifespan),
		CodeChallenge:  req.CodeChallenge,
		CodeChallengeM: req.CodeChallengeMethod,
		Enabled:        true,
		Scopes:         scopes,
		AMR:            amr,
	}
	if err := e.stor.InsertAuthorizationCode(ctx, rec); err != nil {
		return "", oidcerr.Persistence(err, "recording authorization code")
	}
	return code, nil
}

// mintImplicitAccess mints the implicit-grant access token and its audit
// record; implicit tokens carry no refresh token.
func (e *Engine) mintImplicitAccess(ctx context.Context, req *request.AuthorizationRequest, client *host.Client, session *host.Session, scopes []string) (string, error) {
	user, err := e.h.GetUser(ctx, session.Username)
	if err != nil || user == nil {
		return "", oidcerr.Persistence(err, "user directory lookup failed")
	}
	sub, err := e.subjects.Resolve(ctx, session.Username, client.ID, sectorSource{e.h})
	if err != nil {
		return "", oidcerr.Persistence(err, "subject resolution failed")
	}
	jwt, jti, err := e.tokens.MintAccessToken(e.signKid(client), token.AccessTokenParams{
		Issuer:           e.cfg.Issuer,
		Audience:         audienceFor(req.Resource, scopes),
		Subject:          sub,
		ClientID:         client.ID,
		Scope:            scopes,
		Lifetime:         e.cfg.AccessTokenLifespan,
		AdditionalParams: e.additionalParams(user),
	})
	if err != nil {
		return "", oidcerr.CryptoServer(err, "minting implicit access token")
	}
	rec := &store.AccessTokenRecord{
		ID:            uuid.NewString(),
		PluginName:    e.cfg.PluginName,
		AuthorizeType: "implicit",
		Username:      session.Username,
		ClientID:      client.ID,
		Scopes:        scopes,
		Resource:      req.Resource,
		Hash:          token.HashSecret(jwt),
		JTI:           jti,
		IssuedAt:      time.Now(),
		ExpiresAt:     time.Now().Add(e.cfg.AccessTokenLifespan),
		Enabled:       true,
	}
	if err := e.stor.InsertAccessToken(ctx, rec); err != nil {
		return "", oidcerr.Persistence(err, "recording implicit access token")
	}
	return jwt, nil
}

// buildResponse picks the response mode: form_post wraps the outputs in an
// auto-posted HTML form; otherwise code-only flows use the query component
// and any flow carrying a token uses the fragment.
func buildResponse(req *request.AuthorizationRequest, out url.Values) (*AuthorizeResult, error) {
	if req.ResponseMode == "form_post" {
		return &AuthorizeResult{FormPostHTML: formPostHTML(req.RedirectURI, out)}, nil
	}
	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unparsable redirect_uri")
	}
	useFragment := req.ResponseTypes.HasOneOf("token", "id_token") || req.ResponseMode == "fragment"
	if useFragment && req.ResponseMode != "query" {
		target.Fragment = out.Encode()
	} else {
		q := target.Query()
		for k, vals := range out {
			for _, v := range vals {
				q.Set(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return &AuthorizeResult{RedirectURI: target.String()}, nil
}

// formPostHTML renders the RFC-shaped auto-submitting form.
func formPostHTML(action string, out url.Values) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Submit This Form</title></head>")
	b.WriteString("<body onload=\"javascript:document.forms[0].submit()\">")
	fmt.Fprintf(&b, `<form method="post" action="%s">`, html.EscapeString(action))
	for k, vals := range out {
		for _, v := range vals {
			fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s"/>`,
				html.EscapeString(k), html.EscapeString(v))
		}
	}
	b.WriteString("</form></body></html>")
	return b.String()
}
