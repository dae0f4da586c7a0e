// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"net/http"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/clientauth"
	"github.com/ssoplugins/oidcauthz/pkg/consent"
	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/dcr"
	"github.com/ssoplugins/oidcauthz/pkg/dpop"
	"github.com/ssoplugins/oidcauthz/pkg/flows"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/introspect"
	"github.com/ssoplugins/oidcauthz/pkg/par"
	"github.com/ssoplugins/oidcauthz/pkg/request"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/subject"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// Server is one wired plugin instance: every component constructed once at
// init, immutable afterwards. Teardown happens via Close.
type Server struct {
	cfg  Config
	h    host.Host
	stor store.Store

	keys      oidccrypto.Provider
	tokens    *token.Factory
	subjects  *subject.Resolver
	assembler *claims.Assembler
	validator *request.Validator
	auth      *clientauth.Authenticator
	bridge    *consent.Bridge
	engine    *flows.Engine
	pushed    *par.Endpoint
	dpop      *dpop.Validator
	registrar *dcr.Registrar
	inspector *introspect.Service

	discovery string
	iframe    string
}

// New validates cfg, constructs the store-independent components, and wires
// a Server around the given host callbacks and store.
func New(cfg Config, h host.Host, stor store.Store) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	keys, err := oidccrypto.NewProviderFromConfig(cfg.Keys)
	if err != nil {
		return nil, err
	}
	signingAlg := "ES256"
	if key, err := keys.SigningKey(context.Background()); err == nil {
		signingAlg = key.Algorithm
	}
	discovery, err := buildDiscovery(&cfg, signingAlg)
	if err != nil {
		return nil, err
	}

	tokens := token.New(keys)
	subjects := subject.New(cfg.PluginName, cfg.SubjectType, stor)
	assembler := claims.New(cfg.Claims)

	hc := &http.Client{Timeout: oidccrypto.DefaultHTTPTimeout}
	validator := request.New(request.Config{
		PluginName:             cfg.PluginName,
		Issuer:                 cfg.Issuer,
		PAREnabled:             cfg.PAREnabled,
		PARRequired:            cfg.PARRequired,
		PARPrefix:              parPrefix(&cfg),
		JAREnabled:             cfg.JAREnabled,
		AllowNonOIDC:           cfg.AllowNonOIDC,
		AllowPlainPKCE:         cfg.AllowPlainPKCE,
		RestrictScopeProperty:  cfg.RestrictScopeClientProperty,
		ResourceScopeWhitelist: cfg.ResourceScopeWhitelist,
		ResourceClientProperty: cfg.ResourceClientProperty,
		ResourceScopeAndClient: cfg.ResourceScopeAndClientProperty,
		RARTypes:               cfg.AuthorizationDetailTypes,
		RARTypesClientProperty: cfg.RARTypesClientProperty,
		JWKSProperty:           cfg.JWKSProperty,
		JWKSURIProperty:        cfg.JWKSURIProperty,
		PubkeyProperty:         cfg.PubkeyProperty,
	}, h, stor, hc)

	auth := clientauth.New(clientauth.Config{
		PluginName:           cfg.PluginName,
		EndpointURL:          cfg.BaseURL + "/" + cfg.PluginName + "/token",
		AssertionMaxAge:      cfg.AuthTokenMaxAge,
		ClientSecretProperty: cfg.ClientSecretProperty,
		JWKSProperty:         cfg.JWKSProperty,
		JWKSURIProperty:      cfg.JWKSURIProperty,
		PubkeyProperty:       cfg.PubkeyProperty,
		TLSSubjectProperty:   cfg.TLSSubjectProperty,
		CertHeader:           cfg.ClientCertHeader,
	}, h, h, stor, hc)

	bridge := consent.New(consent.Config{
		PluginName:     cfg.PluginName,
		ScopeSchemes:   cfg.ScopeSchemes,
		PasswordScopes: cfg.PasswordScopes,
	}, h)

	engine := flows.New(flows.Config{
		PluginName:            cfg.PluginName,
		Issuer:                cfg.Issuer,
		EnabledGrants:         enabledGrants(&cfg),
		AccessTokenLifespan:   cfg.AccessTokenLifespan,
		RefreshTokenLifespan:  cfg.RefreshTokenLifespan,
		AuthCodeLifespan:      cfg.AuthCodeLifespan,
		IDTokenLifespan:       cfg.IDTokenLifespan,
		DeviceCodeLifespan:    cfg.DeviceCodeLifespan,
		DeviceInterval:        cfg.DeviceInterval,
		OneUse:                cfg.RefreshOneUse,
		OneUseClientProperty:  cfg.RefreshOneUseClientProperty,
		RollingScopes:         cfg.RefreshRollingScopes,
		ScopeDurations:        cfg.RefreshScopeDurations,
		RevokeTokensFromCode:  cfg.RevokeTokensFromCode,
		ResourceChangeAllowed: cfg.ResourceChangeAllowed,
		AllowNonOIDC:          cfg.AllowNonOIDC,
		SignKidProperty:       cfg.SignKidProperty,
		AdditionalParams:      cfg.AdditionalParams,
		Encryption: flows.EncryptionConfig{
			OptInProperties: map[flows.TokenType]string{
				flows.TokenTypeAccess:        cfg.EncryptAccessTokenProperty,
				flows.TokenTypeID:            cfg.EncryptIDTokenProperty,
				flows.TokenTypeUserinfo:      cfg.EncryptUserinfoProperty,
				flows.TokenTypeIntrospection: cfg.EncryptIntrospectionProperty,
			},
			AlgProperty:          cfg.EncryptionAlgProperty,
			EncProperty:          cfg.EncryptionEncProperty,
			AlgKidProperty:       cfg.AlgKidProperty,
			ClientSecretProperty: cfg.ClientSecretProperty,
			JWKSProperty:         cfg.JWKSProperty,
			JWKSURIProperty:      cfg.JWKSURIProperty,
			PubkeyProperty:       cfg.PubkeyProperty,
		},
	}, h, stor, keys, tokens, subjects, assembler, hc)

	var pushed *par.Endpoint
	if cfg.PAREnabled {
		pushed = par.New(cfg.PluginName, cfg.PARPrefix, cfg.PARLifespan, stor)
	}

	var registrar *dcr.Registrar
	if cfg.RegisterEnabled {
		if h.Registrar == nil {
			log.Warnw("dynamic registration enabled but host provides no directory write surface; disabling",
				"plugin", cfg.PluginName)
		} else {
			registrar = dcr.New(dcr.Config{
				PluginName:          cfg.PluginName,
				AuthScopes:          cfg.RegisterClientAuthScopes,
				ManagementEnabled:   cfg.RegisterManagementEnabled,
				RegistrationBaseURI: cfg.BaseURL + "/" + cfg.PluginName + "/register",
			}, h, h.Registrar, h, stor)
		}
	}

	srv := &Server{
		cfg:       cfg,
		h:         h,
		stor:      stor,
		keys:      keys,
		tokens:    tokens,
		subjects:  subjects,
		assembler: assembler,
		validator: validator,
		auth:      auth,
		bridge:    bridge,
		engine:    engine,
		pushed:    pushed,
		dpop:      dpop.New(cfg.PluginName, cfg.DPoPIATDuration, stor),
		registrar: registrar,
		inspector: introspect.New(cfg.PluginName, cfg.Issuer, stor, tokens),
		discovery: discovery,
		iframe:    checkSessionIFrame,
	}
	log.Infow("plugin instance wired", "plugin", cfg.PluginName, "issuer", cfg.Issuer)
	return srv, nil
}

// enabledGrants maps configured flows to token-endpoint grant identifiers.
// The delete_token extension rides on whichever flows mint refresh tokens.
func enabledGrants(cfg *Config) []string {
	var grants []string
	for _, f := range cfg.Flows {
		switch f {
		case FlowCode:
			grants = append(grants, flows.GrantAuthorizationCode)
		case FlowPassword:
			grants = append(grants, flows.GrantPassword)
		case FlowClientCredentials:
			grants = append(grants, flows.GrantClientCredentials)
		case FlowRefresh:
			grants = append(grants, flows.GrantRefreshToken, flows.GrantDeleteToken)
		case FlowDevice:
			grants = append(grants, flows.GrantDeviceCode)
		}
	}
	return grants
}

func parPrefix(cfg *Config) string {
	if cfg.PARPrefix != "" {
		return cfg.PARPrefix
	}
	return par.DefaultPrefix
}

// Close releases the store's resources.
func (s *Server) Close() error { return s.stor.Close() }

// Accessors for the HTTP layer.

func (s *Server) Config() *Config                        { return &s.cfg }
func (s *Server) Host() host.Host                        { return s.h }
func (s *Server) Store() store.Store                     { return s.stor }
func (s *Server) Keys() oidccrypto.Provider              { return s.keys }
func (s *Server) Tokens() *token.Factory                 { return s.tokens }
func (s *Server) Subjects() *subject.Resolver            { return s.subjects }
func (s *Server) Assembler() *claims.Assembler           { return s.assembler }
func (s *Server) RequestValidator() *request.Validator   { return s.validator }
func (s *Server) ClientAuth() *clientauth.Authenticator  { return s.auth }
func (s *Server) ConsentBridge() *consent.Bridge         { return s.bridge }
func (s *Server) Engine() *flows.Engine                  { return s.engine }
func (s *Server) PAR() *par.Endpoint                     { return s.pushed }
func (s *Server) DPoP() *dpop.Validator                  { return s.dpop }
func (s *Server) DCR() *dcr.Registrar                    { return s.registrar }
func (s *Server) Introspection() *introspect.Service     { return s.inspector }
func (s *Server) DiscoveryDocument() string              { return s.discovery }
func (s *Server) CheckSessionIFrame() string             { return s.iframe }
