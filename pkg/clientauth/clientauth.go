// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clientauth identifies and authenticates the relying-party client
// on back-channel requests. Six methods are supported: none,
// client_secret_post, client_secret_basic, client_secret_jwt,
// private_key_jwt, and the two mTLS variants. The chosen method must appear
// in the client's token_endpoint_auth_method list, or the list must be
// unset.
package clientauth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// Method names one client authentication mechanism.
type Method string

const (
	MethodNone              Method = "none"
	MethodSecretPost        Method = "client_secret_post"
	MethodSecretBasic       Method = "client_secret_basic"
	MethodSecretJWT         Method = "client_secret_jwt"
	MethodPrivateKeyJWT     Method = "private_key_jwt"
	MethodTLSClientAuth     Method = "tls_client_auth"
	MethodSelfSignedTLSAuth Method = "self_signed_tls_client_auth"
)

// clientAssertionType is the fixed assertion-type URN for JWT client
// authentication (RFC 7523).
const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Config carries the authenticator's validated settings and the names of the
// client properties it reads key material and mTLS expectations from.
type Config struct {
	PluginName string
	// EndpointURL is the absolute URL of the endpoint being authenticated
	// against, required as the assertion audience.
	EndpointURL string
	// AssertionMaxAge bounds exp-now on client assertions
	// (auth_token_max_age).
	AssertionMaxAge time.Duration

	// Property names, all configurable.
	ClientSecretProperty string // shared secret for HS* assertions
	JWKSProperty         string
	JWKSURIProperty      string
	PubkeyProperty       string
	TLSSubjectProperty   string // declared DN or SAN value for tls_client_auth
	// CertHeader, when set, names the HTTP header a TLS-terminating proxy
	// forwards the URL-encoded PEM client certificate in. When empty the
	// certificate is taken from the TLS connection state.
	CertHeader string
}

// Store is the narrow persistence contract: assertion jti replay tracking.
type Store interface {
	InsertClientAssertionJTI(ctx context.Context, rec *store.ClientAssertionJTI) error
}

// Result is a successfully authenticated client.
type Result struct {
	Client *host.Client
	Method Method
	// CertThumbprint is the x5t#S256 of the presented certificate for the
	// mTLS methods, empty otherwise. Flow engines bind it into cnf.
	CertThumbprint string
}

// Authenticator implements the six-method dispatch.
type Authenticator struct {
	cfg     Config
	dir     host.Directory
	metrics host.Metrics
	backing Store
	hc      *http.Client
}

// New builds an Authenticator. hc may be nil; a default client with a
// bounded timeout is used for jwks_uri fetches.
func New(cfg Config, dir host.Directory, metrics host.Metrics, backing Store, hc *http.Client) *Authenticator {
	if metrics == nil {
		metrics = host.NoopMetrics{}
	}
	return &Authenticator{cfg: cfg, dir: dir, metrics: metrics, backing: backing, hc: hc}
}

// Authenticate identifies the client from the request and verifies it with
// whichever method the request shape selects. form is the already-parsed
// request body.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, form url.Values) (*Result, error) {
	res, err := a.authenticate(ctx, r, form)
	if err != nil {
		a.metrics.IncrementCounter("oidc_client_auth_failures_total", 1, map[string]string{"plugin": a.cfg.PluginName})
		log.Warnw("client authentication failed",
			"plugin", a.cfg.PluginName, "remote", r.RemoteAddr, "error", err)
		return nil, err
	}
	return res, nil
}

func (a *Authenticator) authenticate(ctx context.Context, r *http.Request, form url.Values) (*Result, error) {
	switch {
	case form.Get("client_assertion") != "":
		if form.Get("client_assertion_type") != clientAssertionType {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "unsupported client_assertion_type")
		}
		return a.authenticateAssertion(ctx, form.Get("client_assertion"))
	case hasBasicAuth(r):
		user, pass, _ := r.BasicAuth()
		return a.authenticateSecret(ctx, user, pass, MethodSecretBasic)
	case a.presentedCert(r) != nil:
		cert := a.presentedCert(r)
		clientID := form.Get("client_id")
		if clientID == "" {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_id is required for mTLS authentication")
		}
		return a.authenticateMTLS(ctx, clientID, cert)
	case form.Get("client_secret") != "":
		return a.authenticateSecret(ctx, form.Get("client_id"), form.Get("client_secret"), MethodSecretPost)
	case form.Get("client_id") != "":
		return a.authenticateNone(ctx, form.Get("client_id"))
	default:
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "no client authentication presented")
	}
}

func hasBasicAuth(r *http.Request) bool {
	_, _, ok := r.BasicAuth()
	return ok
}

func (a *Authenticator) lookupClient(ctx context.Context, clientID string) (*host.Client, error) {
	client, err := a.dir.GetClient(ctx, clientID)
	if err != nil {
		return nil, oidcerr.Persistence(err, "client directory lookup failed")
	}
	if client == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "unknown client")
	}
	return client, nil
}

// methodAllowed checks the client's token_endpoint_auth_method list; an
// unset list allows every method.
func methodAllowed(client *host.Client, m Method) bool {
	if len(client.TokenEndpointAuthMethods) == 0 {
		return true
	}
	for _, allowed := range client.TokenEndpointAuthMethods {
		if allowed == string(m) {
			return true
		}
	}
	return false
}

func (a *Authenticator) authenticateNone(ctx context.Context, clientID string) (*Result, error) {
	client, err := a.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client.Confidential {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "confidential client must authenticate")
	}
	if !methodAllowed(client, MethodNone) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "method none not allowed for client")
	}
	return &Result{Client: client, Method: MethodNone}, nil
}

func (a *Authenticator) authenticateSecret(ctx context.Context, clientID, secret string, m Method) (*Result, error) {
	if clientID == "" || secret == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "missing client credentials")
	}
	client, err := a.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !methodAllowed(client, m) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "method not allowed for client")
	}
	ok, err := a.dir.CheckClientValid(ctx, clientID, secret)
	if err != nil {
		return nil, oidcerr.Persistence(err, "client secret verification failed")
	}
	if !ok {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "invalid client credentials")
	}
	return &Result{Client: client, Method: m}, nil
}
