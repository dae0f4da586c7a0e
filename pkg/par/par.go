// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package par implements the push side of Pushed Authorization Requests
// (RFC 9126). Consumption of a pushed handle at /auth lives in
// pkg/request; finalization after a completed authorization lives here too
// so the status lifecycle (0 fresh, 1 consumed-once, 2 finalized) has a
// single owner.
package par

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// DefaultPrefix is used when no request_uri prefix is configured.
const DefaultPrefix = "urn:par:"

// DefaultLifespan is used when no pushed-request lifetime is configured.
const DefaultLifespan = 90 * time.Second

// Backing is the narrow store contract.
type Backing interface {
	InsertPAR(ctx context.Context, rec *store.PushedAuthorizationRequest) error
	UpdatePARStatus(ctx context.Context, pluginName, id string, status store.PARStatus) error
}

// Endpoint stores pushed requests for one plugin instance.
type Endpoint struct {
	pluginName string
	prefix     string
	lifespan   time.Duration
	backing    Backing
}

// New builds an Endpoint; empty prefix/lifespan take the defaults.
func New(pluginName, prefix string, lifespan time.Duration, backing Backing) *Endpoint {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if lifespan <= 0 {
		lifespan = DefaultLifespan
	}
	return &Endpoint{pluginName: pluginName, prefix: prefix, lifespan: lifespan, backing: backing}
}

// Response is the /par success body.
type Response struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int64  `json:"expires_in"`
}

// Push stores the full parameter set under a fresh handle. A request_uri in
// the pushed body itself is rejected (RFC 9126 §2.1); a `request` JAR JWT is
// stored verbatim and re-validated when the handle is consumed.
func (e *Endpoint) Push(ctx context.Context, clientID string, params url.Values) (*Response, error) {
	if params.Get("request_uri") != "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "request_uri cannot be pushed")
	}
	// The handle suffix shares the authorization code's 32-char URL-safe shape.
	suffix, err := token.NewAuthorizationCode()
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "generating request_uri handle")
	}
	handle := e.prefix + suffix

	rec := &store.PushedAuthorizationRequest{
		ID:             uuid.NewString(),
		PluginName:     e.pluginName,
		RequestURIRaw:  handle,
		RequestURIHash: token.HashSecret(handle),
		Params:         params.Encode(),
		Status:         store.PARFresh,
		ClientID:       clientID,
		ExpiresAt:      time.Now().Add(e.lifespan),
	}
	if err := e.backing.InsertPAR(ctx, rec); err != nil {
		return nil, oidcerr.Persistence(err, "storing pushed authorization request")
	}
	log.Debugw("pushed authorization request stored", "plugin", e.pluginName, "client", clientID)
	return &Response{RequestURI: handle, ExpiresIn: int64(e.lifespan.Seconds())}, nil
}

// Finalize marks a pushed request as fully used once the authorization it
// sourced has completed.
func (e *Endpoint) Finalize(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := e.backing.UpdatePARStatus(ctx, e.pluginName, id, store.PARFinalized); err != nil {
		return oidcerr.Persistence(err, "finalizing pushed authorization request")
	}
	return nil
}
