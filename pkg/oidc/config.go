// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidc ties one plugin instance together: the validated
// configuration, the discovery/JWKS publisher, and the wiring of
// every component into a running Server.
package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/claims"
	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/flows"
	"github.com/ssoplugins/oidcauthz/pkg/request"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// Flow names an enabled grant surface.
type Flow string

const (
	FlowCode              Flow = "code"
	FlowImplicit          Flow = "implicit"
	FlowPassword          Flow = "password"
	FlowClientCredentials Flow = "client_credentials"
	FlowRefresh           Flow = "refresh_token"
	FlowDevice            Flow = "device"
	FlowNone              Flow = "none"
)

// Config is the plugin's declarative configuration, fully resolved (no file
// paths resolved lazily, no env vars). It is validated once at plugin
// instantiation and immutable afterwards.
type Config struct {
	// PluginName prefixes every endpoint and keys every stored record.
	PluginName string
	// Issuer is the iss value of every minted token.
	Issuer string
	// BaseURL is the absolute external URL the plugin's endpoints live
	// under (Issuer is usually but not necessarily the same).
	BaseURL string

	// Flows enumerates the enabled grant surfaces.
	Flows []Flow
	// AllowNonOIDC permits requests without the openid scope and enables
	// the password grant.
	AllowNonOIDC bool

	// Keys configures the signing-key source.
	Keys oidccrypto.Config

	// StoreDialect selects the persistence backend.
	StoreDialect store.Dialect

	// SubjectType selects public or pairwise sub assignment.
	SubjectType store.SubjectType

	// Claims configures the claim/scope assembler.
	Claims claims.Config

	// Lifetimes. Zero values take defaults at wiring time.
	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	AuthCodeLifespan     time.Duration
	IDTokenLifespan      time.Duration
	DeviceCodeLifespan   time.Duration
	DeviceInterval       time.Duration

	// Refresh-token rotation policy.
	RefreshOneUse               flows.OneUsePolicy
	RefreshOneUseClientProperty string
	RefreshRollingScopes        []string
	RefreshScopeDurations       map[string]time.Duration
	// RevokeTokensFromCode cascades descendant-token disabling when a
	// consumed code is replayed.
	RevokeTokensFromCode  bool
	ResourceChangeAllowed bool

	// PKCE.
	AllowPlainPKCE bool

	// PAR (RFC 9126).
	PAREnabled  bool
	PARRequired bool
	PARPrefix   string
	PARLifespan time.Duration

	// JAR (RFC 9101).
	JAREnabled bool

	// DPoP (RFC 9449).
	DPoPIATDuration time.Duration

	// Client authentication.
	AuthTokenMaxAge              time.Duration
	ClientCertHeader             string
	ClientCertUseEndpointAliases bool

	// Session/consent bridge.
	ScopeSchemes   map[string][]string
	PasswordScopes []string

	// Scope/resource/RAR policy.
	RestrictScopeClientProperty    string
	ResourceScopeWhitelist         map[string][]string
	ResourceClientProperty         string
	ResourceScopeAndClientProperty bool
	AuthorizationDetailTypes       []request.RARType
	RARTypesClientProperty         string

	// Configurable client-property names. Empty entries take defaults.
	SignKidProperty      string
	AlgKidProperty       string
	JWKSProperty         string
	JWKSURIProperty      string
	PubkeyProperty       string
	ClientSecretProperty string
	TLSSubjectProperty   string

	// AdditionalParams maps extra access-token claim names to user-record
	// properties.
	AdditionalParams map[string]string

	// Outbound token encryption opt-in property names, per token type.
	EncryptAccessTokenProperty   string
	EncryptIDTokenProperty       string
	EncryptUserinfoProperty      string
	EncryptIntrospectionProperty string
	EncryptionAlgProperty        string
	EncryptionEncProperty        string

	// Dynamic client registration.
	RegisterEnabled           bool
	RegisterClientAuthScopes  []string
	RegisterManagementEnabled bool
}

// Validate rejects plugin instantiation when required fields are missing or
// malformed, and cross-checks dependent settings.
func (c *Config) Validate() error {
	log.Debugw("validating plugin config", "plugin", c.PluginName, "issuer", c.Issuer)

	if c.PluginName == "" {
		return fmt.Errorf("plugin name is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if len(c.Flows) == 0 {
		return fmt.Errorf("at least one flow must be enabled")
	}
	for _, f := range c.Flows {
		switch f {
		case FlowCode, FlowImplicit, FlowPassword, FlowClientCredentials, FlowRefresh, FlowDevice, FlowNone:
		default:
			return fmt.Errorf("unknown flow %q", f)
		}
	}
	if c.FlowEnabled(FlowPassword) && !c.AllowNonOIDC {
		return fmt.Errorf("the password flow requires allow-non-oidc")
	}
	if c.PARRequired && !c.PAREnabled {
		return fmt.Errorf("par-required implies the PAR endpoint is enabled")
	}
	switch c.SubjectType {
	case "", store.SubjectPublic, store.SubjectPairwise:
	default:
		return fmt.Errorf("unknown subject type %q", c.SubjectType)
	}
	switch c.RefreshOneUse {
	case "", flows.OneUseAlways, flows.OneUseNever, flows.OneUseClient:
	default:
		return fmt.Errorf("unknown refresh one-use policy %q", c.RefreshOneUse)
	}
	if c.RefreshOneUse == flows.OneUseClient && c.RefreshOneUseClientProperty == "" {
		return fmt.Errorf("client-driven one-use policy requires the client property name")
	}
	if err := c.Claims.Validate(); err != nil {
		return err
	}
	for i, t := range c.AuthorizationDetailTypes {
		if t.Type == "" {
			return fmt.Errorf("authorization-details type %d: type name is required", i)
		}
		if len(t.Scopes) == 0 {
			return fmt.Errorf("authorization-details type %q: scope set is required", t.Type)
		}
	}
	switch c.StoreDialect {
	case "", store.DialectMemory, store.DialectPostgres, store.DialectSQLite, store.DialectRedis:
	case store.DialectMariaDB:
		return fmt.Errorf("the mariadb dialect has no driver in this build (see DESIGN.md)")
	default:
		return fmt.Errorf("unknown store dialect %q", c.StoreDialect)
	}

	log.Debugw("plugin config validation passed",
		"plugin", c.PluginName,
		"flows", len(c.Flows),
		"par", c.PAREnabled,
		"dcr", c.RegisterEnabled,
	)
	return nil
}

// FlowEnabled reports whether f was configured.
func (c *Config) FlowEnabled(f Flow) bool {
	for _, e := range c.Flows {
		if e == f {
			return true
		}
	}
	return false
}

// applyDefaults fills zero values; called once by New after Validate.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = c.Issuer
	}
	if c.SubjectType == "" {
		c.SubjectType = store.SubjectPublic
	}
	if c.RefreshOneUse == "" {
		c.RefreshOneUse = flows.OneUseNever
	}
	if c.DPoPIATDuration == 0 {
		c.DPoPIATDuration = time.Minute
	}
	if c.AuthTokenMaxAge == 0 {
		c.AuthTokenMaxAge = 5 * time.Minute
	}
	if c.SignKidProperty == "" {
		c.SignKidProperty = "sign_kid"
	}
	if c.AlgKidProperty == "" {
		c.AlgKidProperty = "alg_kid"
	}
	if c.JWKSProperty == "" {
		c.JWKSProperty = "jwks"
	}
	if c.JWKSURIProperty == "" {
		c.JWKSURIProperty = "jwks_uri"
	}
	if c.PubkeyProperty == "" {
		c.PubkeyProperty = "pubkey"
	}
	if c.ClientSecretProperty == "" {
		c.ClientSecretProperty = "client_secret"
	}
	if c.TLSSubjectProperty == "" {
		c.TLSSubjectProperty = "tls_client_auth_subject"
	}
	if c.EncryptionAlgProperty == "" {
		c.EncryptionAlgProperty = "token_encryption_alg"
	}
	if c.EncryptionEncProperty == "" {
		c.EncryptionEncProperty = "token_encryption_enc"
	}
	if c.EncryptAccessTokenProperty == "" {
		c.EncryptAccessTokenProperty = "encrypt_access_token"
	}
	if c.EncryptIDTokenProperty == "" {
		c.EncryptIDTokenProperty = "encrypt_id_token"
	}
	if c.EncryptUserinfoProperty == "" {
		c.EncryptUserinfoProperty = "encrypt_userinfo"
	}
	if c.EncryptIntrospectionProperty == "" {
		c.EncryptIntrospectionProperty = "encrypt_introspection"
	}
}

// Tree renders the validated configuration as an immutable JSON document
// keyed by option names, the form the host's admin surface consumes.
func (c *Config) Tree() (json.RawMessage, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("oidc: rendering config tree: %w", err)
	}
	return raw, nil
}
