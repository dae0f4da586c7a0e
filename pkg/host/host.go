// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package host declares the callback contract the authorization server
// relies on to reach the embedding SSO server. User/client directory
// lookups, session validation, login-url
// construction, and metrics transport are the host's responsibility; this
// core never touches a user/client table or an HTTP mux directly.
package host

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks github.com/ssoplugins/oidcauthz/pkg/host Directory,SessionHost,Hasher

import (
	"context"
	"net/url"
	"time"
)

// Client is the subset of a registered relying-party client record the core
// needs. The host directory owns the full record; this is a read-only view.
type Client struct {
	ID                     string
	Name                   string
	Confidential           bool
	RedirectURIs           []string
	Scopes                 []string
	ResponseTypes          []string
	GrantTypes             []string
	TokenEndpointAuthMethods []string
	AuthorizationTypes     []string // "code" | "password" | "client_credentials" | "delete_token" | ...
	SectorIdentifierURI    string
	// Properties carries client-declared properties named by configurable
	// keys (sign_kid, alg_kid, jwks, jwks_uri, pubkey, restrict-scope
	// property, resource whitelist property, and so on). Values are left as
	// strings; callers interpret per the property's documented shape.
	Properties map[string]string
}

// Property looks up a client-declared property by name, returning ("",
// false) when absent.
func (c *Client) Property(name string) (string, bool) {
	if c == nil || c.Properties == nil {
		return "", false
	}
	v, ok := c.Properties[name]
	return v, ok
}

// PropertyTruthy reports whether a client-declared boolean property is set
// to a recognized truthy value. The literal "indeed, my
// friend" is accepted as truthy alongside the usual booleans, preserved for
// compatibility without becoming documented API.
func (c *Client) PropertyTruthy(name string) bool {
	v, ok := c.Property(name)
	if !ok {
		return false
	}
	switch v {
	case "1", "true", "yes", "on", "indeed, my friend":
		return true
	default:
		return false
	}
}

// User is the subset of a directory user record the core needs to build
// claims and verify passwords.
type User struct {
	Username   string
	Properties map[string]any
}

// Session describes the host's SSO session as relevant to this request: the
// schemes the user has satisfied, when the session began, and its subject.
type Session struct {
	Username    string
	StartedAt   time.Time
	AMR         []string // authentication methods already satisfied this session
	ACR         string
}

// Age returns how long this session has been established.
func (s Session) Age() time.Duration { return time.Since(s.StartedAt) }

// Directory is the host's user/client lookup surface.
type Directory interface {
	// GetClient returns the client record, or (nil, nil) if unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)
	// CheckClientValid verifies a client_secret against the directory's
	// stored hash (constant-time).
	CheckClientValid(ctx context.Context, clientID, secret string) (bool, error)
	// GetUser returns the user record, or (nil, nil) if unknown.
	GetUser(ctx context.Context, username string) (*User, error)
	// CheckUserValid verifies a password for the requested scope (ROPC).
	CheckUserValid(ctx context.Context, username, password, scope string) (bool, error)
}

// SessionHost is the host's session surface.
type SessionHost interface {
	// CheckSessionValid reports whether the caller's current session
	// satisfies the given scope, and which username it is bound to.
	CheckSessionValid(ctx context.Context, requestToken string, scope string) (*Session, error)
	// GetClientGrantedScopes returns the subset of scope the user has
	// already granted to client.
	GetClientGrantedScopes(ctx context.Context, clientID, username, scope string) ([]string, error)
	// GetLoginURL builds the URL to redirect the browser to for interactive
	// login/consent, carrying callback and any extra query parameters.
	GetLoginURL(clientID, scope, callback string, params url.Values) string
	// GetSessionAge returns how long ago the session's last authentication
	// occurred, used to enforce max_age.
	GetSessionAge(ctx context.Context, requestToken string) (time.Duration, error)
}

// Registrar is the host directory's write surface, used only by dynamic
// client registration. Hosts that disable DCR may leave it nil.
type Registrar interface {
	CreateClient(ctx context.Context, client *Client) error
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
}

// Hasher exposes the host's salted, constant-time-comparable secret hashing.
type Hasher interface {
	// GenerateHash returns a salted hash of secret suitable for storage and
	// later comparison via Verify.
	GenerateHash(secret string) (string, error)
	// Verify reports whether secret matches a previously generated hash.
	Verify(hash, secret string) bool
}

// Metrics is the host's counter-increment callback
// (plugin_callback_metrics_increment_counter).
type Metrics interface {
	IncrementCounter(name string, delta float64, labels map[string]string)
}

// NoopMetrics discards every increment; used when a host does not wire a
// metrics backend (e.g. in tests).
type NoopMetrics struct{}

func (NoopMetrics) IncrementCounter(string, float64, map[string]string) {}

// Host bundles every callback surface a plugin instance is wired against.
// Registrar is nil when the host does not allow dynamic registration.
type Host struct {
	Directory
	SessionHost
	Hasher
	Metrics
	Registrar
}
