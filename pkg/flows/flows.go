// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package flows implements the grant engines: authorization code,
// implicit/hybrid, resource-owner password, client credentials, refresh
// token, device code, and the delete-token extension. Each engine validates
// its inputs, drives the token factory, and records the issued aggregate in
// the store.
package flows

import (
	"context"
	"net/http"
	"time"

	"github.com/ory/fosite"

	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/clientauth"
	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/dpop"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/subject"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// OneUsePolicy selects refresh-token rotation behavior.
type OneUsePolicy string

const (
	OneUseAlways OneUsePolicy = "always"
	OneUseNever  OneUsePolicy = "never"
	// OneUseClient defers to a truthy client property named by
	// Config.OneUseClientProperty.
	OneUseClient OneUsePolicy = "client"
)

// Config carries every flow-relevant knob, resolved from the validated
// plugin configuration.
type Config struct {
	PluginName string
	Issuer     string

	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	AuthCodeLifespan     time.Duration
	IDTokenLifespan      time.Duration
	DeviceCodeLifespan   time.Duration
	DeviceInterval       time.Duration

	OneUse                OneUsePolicy
	OneUseClientProperty  string
	RollingScopes         []string
	ScopeDurations        map[string]time.Duration
	RevokeTokensFromCode  bool
	ResourceChangeAllowed bool
	AllowNonOIDC          bool

	// EnabledGrants whitelists the grant types the token endpoint serves;
	// empty means every grant is enabled (tests and single-flow embeddings).
	EnabledGrants []string

	// SignKidProperty names the client property selecting an alternate
	// signing kid.
	SignKidProperty string
	// AdditionalParams maps extra access-token claim names to user-record
	// property names, copied into every user access token.
	AdditionalParams map[string]string

	Encryption EncryptionConfig
}

// Engine drives every grant for one plugin instance.
type Engine struct {
	cfg       Config
	h         host.Host
	stor      store.Store
	keys      oidccrypto.Provider
	tokens    *token.Factory
	subjects  *subject.Resolver
	assembler *claims.Assembler
	hc        *http.Client
}

// New wires an Engine.
func New(cfg Config, h host.Host, stor store.Store, keys oidccrypto.Provider, tokens *token.Factory, subjects *subject.Resolver, assembler *claims.Assembler, hc *http.Client) *Engine {
	if cfg.AccessTokenLifespan <= 0 {
		cfg.AccessTokenLifespan = time.Hour
	}
	if cfg.RefreshTokenLifespan <= 0 {
		cfg.RefreshTokenLifespan = 7 * 24 * time.Hour
	}
	if cfg.AuthCodeLifespan <= 0 {
		cfg.AuthCodeLifespan = 10 * time.Minute
	}
	if cfg.IDTokenLifespan <= 0 {
		cfg.IDTokenLifespan = time.Hour
	}
	if cfg.DeviceCodeLifespan <= 0 {
		cfg.DeviceCodeLifespan = 10 * time.Minute
	}
	if cfg.DeviceInterval <= 0 {
		cfg.DeviceInterval = 5 * time.Second
	}
	return &Engine{cfg: cfg, h: h, stor: stor, keys: keys, tokens: tokens, subjects: subjects, assembler: assembler, hc: hc}
}

// TokenRequest is one parsed /token call after client authentication.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Username     string
	Password     string
	Scope        fosite.Arguments
	Resource     string
	DeviceCode   string
	// Token is the refresh token targeted by the delete_token grant.
	Token string

	Client     *host.Client
	AuthMethod clientauth.Method
	// DPoP is the validated proof when the request carried a DPoP header.
	DPoP *dpop.Proof
	// CertThumbprint is the mTLS x5t#S256 when the client authenticated
	// with a certificate.
	CertThumbprint string
	UserAgent      string
}

// confirmation assembles the cnf binding for this request.
func (tr *TokenRequest) confirmation() token.Confirmation {
	c := token.Confirmation{X5TS256: tr.CertThumbprint}
	if tr.DPoP != nil {
		c.JKT = tr.DPoP.JKT
	}
	return c
}

// TokenResponse is the /token success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Grant type identifiers.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantDeleteToken       = "delete_token"
)

// Token dispatches a /token request to its grant engine.
func (e *Engine) Token(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if !e.grantEnabled(tr.GrantType) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "grant_type is not enabled")
	}
	switch tr.GrantType {
	case GrantAuthorizationCode:
		return e.authorizationCodeGrant(ctx, tr)
	case GrantRefreshToken:
		return e.refreshTokenGrant(ctx, tr)
	case GrantPassword:
		return e.passwordGrant(ctx, tr)
	case GrantClientCredentials:
		return e.clientCredentialsGrant(ctx, tr)
	case GrantDeviceCode:
		return e.deviceCodeGrant(ctx, tr)
	case GrantDeleteToken:
		return e.deleteTokenGrant(ctx, tr)
	default:
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unsupported grant_type")
	}
}

func (e *Engine) grantEnabled(grant string) bool {
	if len(e.cfg.EnabledGrants) == 0 {
		return true
	}
	for _, g := range e.cfg.EnabledGrants {
		if g == grant {
			return true
		}
	}
	return false
}

// clientAllows reports whether the client's authorization_type list names
// authType.
func clientAllows(client *host.Client, authType string) bool {
	for _, t := range client.AuthorizationTypes {
		if t == authType {
			return true
		}
	}
	return false
}

// signKid resolves the per-client signing-key override, empty for the
// default key.
func (e *Engine) signKid(client *host.Client) string {
	if e.cfg.SignKidProperty == "" {
		return ""
	}
	kid, _ := client.Property(e.cfg.SignKidProperty)
	return kid
}

// hashBits returns the at_hash/c_hash hash size for the key that will sign
// for client.
func (e *Engine) hashBits(ctx context.Context, client *host.Client) int {
	kid := e.signKid(client)
	var key *oidccrypto.SigningKeyData
	var err error
	if kid != "" {
		key, err = e.keys.KeyByID(ctx, kid)
	} else {
		key, err = e.keys.SigningKey(ctx)
	}
	if err != nil {
		return 256
	}
	return token.HashBitsForAlgorithm(key.Algorithm)
}

// refreshDuration is min(configured global, per-scope override) across the
// issued scopes.
func (e *Engine) refreshDuration(scopes []string) time.Duration {
	d := e.cfg.RefreshTokenLifespan
	for _, s := range scopes {
		if override, ok := e.cfg.ScopeDurations[s]; ok && override > 0 && override < d {
			d = override
		}
	}
	return d
}

// refreshRolling reports whether any issued scope is configured rolling.
func (e *Engine) refreshRolling(scopes []string) bool {
	for _, s := range scopes {
		for _, r := range e.cfg.RollingScopes {
			if s == r {
				return true
			}
		}
	}
	return false
}

// oneUse resolves the rotation policy for client.
func (e *Engine) oneUse(client *host.Client) bool {
	switch e.cfg.OneUse {
	case OneUseAlways:
		return true
	case OneUseClient:
		return client.PropertyTruthy(e.cfg.OneUseClientProperty)
	default:
		return false
	}
}

// additionalParams copies configured user-record properties into extra
// access-token claims.
func (e *Engine) additionalParams(user *host.User) map[string]any {
	if len(e.cfg.AdditionalParams) == 0 || user == nil {
		return nil
	}
	out := map[string]any{}
	for claim, prop := range e.cfg.AdditionalParams {
		if v, ok := user.Properties[prop]; ok {
			out[claim] = v
		}
	}
	return out
}

// audienceFor is the access token audience: the resource URI when bound,
// else the space-joined scope list as a single entry.
func audienceFor(resource string, scopes []string) []string {
	if resource != "" {
		return []string{resource}
	}
	return []string{joinScopes(scopes)}
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func rawDetails(details string) []map[string]any {
	if details == "" {
		return nil
	}
	parsed, err := parseRawDetails(details)
	if err != nil {
		return nil
	}
	return parsed
}
