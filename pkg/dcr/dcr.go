// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dcr implements dynamic client registration and management. The
// registration schema is translated to the host directory's client shape;
// the registration record itself stores only IDs and the management-token
// hash.
package dcr

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

const (
	clientIDLen        = 16
	clientSecretLen    = 32
	managementTokenLen = 32

	alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Config carries the registrar's settings.
type Config struct {
	PluginName string
	// AuthScopes, when non-empty, requires the POST /register caller to
	// present a bearer token carrying these scopes; empty means open
	// registration.
	AuthScopes []string
	// ManagementEnabled controls whether a registration_access_token is
	// issued and the GET/PUT/DELETE management surface is live.
	ManagementEnabled bool
	// RegistrationBaseURI is the absolute /register URL, used to build
	// registration_client_uri.
	RegistrationBaseURI string
}

// Metadata is the accepted subset of RFC 7591 client metadata.
type Metadata struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	JWKSURI                 string   `json:"jwks_uri,omitempty"`
	SectorIdentifierURI     string   `json:"sector_identifier_uri,omitempty"`
}

// Response is the registration success body: the echoed metadata plus the
// generated credentials.
type Response struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string `json:"registration_client_uri,omitempty"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at"`
	Metadata
}

// Backing is the narrow store contract.
type Backing interface {
	InsertClientRegistration(ctx context.Context, rec *store.ClientRegistration) error
	FindClientRegistration(ctx context.Context, pluginName, clientID string) (*store.ClientRegistration, error)
	DeleteClientRegistration(ctx context.Context, pluginName, clientID string) error
}

// Registrar drives registration against the host directory.
type Registrar struct {
	cfg     Config
	dir     host.Directory
	writer  host.Registrar
	hasher  host.Hasher
	backing Backing
}

// New builds a Registrar. writer must be non-nil; callers gate on it before
// mounting the endpoints.
func New(cfg Config, dir host.Directory, writer host.Registrar, hasher host.Hasher, backing Backing) *Registrar {
	return &Registrar{cfg: cfg, dir: dir, writer: writer, hasher: hasher, backing: backing}
}

// Register validates metadata, creates the host directory record, and
// stores the registration linkage.
func (r *Registrar) Register(ctx context.Context, meta Metadata, initialAccessID string) (*Response, error) {
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}

	clientID, err := randomAlnum(clientIDLen)
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "generating client_id")
	}

	resp := &Response{
		ClientID:         clientID,
		ClientIDIssuedAt: time.Now().Unix(),
		Metadata:         meta,
	}

	client := translateToHost(clientID, meta)
	if usesSecret(meta.TokenEndpointAuthMethod) {
		secret, err := randomAlnum(clientSecretLen)
		if err != nil {
			return nil, oidcerr.CryptoServer(err, "generating client_secret")
		}
		resp.ClientSecret = secret
		client.Confidential = true
		client.Properties["client_secret"] = secret
	}

	if err := r.writer.CreateClient(ctx, client); err != nil {
		return nil, oidcerr.Persistence(err, "creating client in host directory")
	}

	rec := &store.ClientRegistration{
		PluginName:      r.cfg.PluginName,
		ClientID:        clientID,
		InitialAccessID: initialAccessID,
	}
	if r.cfg.ManagementEnabled {
		mgmt, err := randomAlnum(managementTokenLen)
		if err != nil {
			return nil, oidcerr.CryptoServer(err, "generating registration_access_token")
		}
		hash, err := r.hasher.GenerateHash(mgmt)
		if err != nil {
			return nil, oidcerr.CryptoServer(err, "hashing registration_access_token")
		}
		rec.ManagementTokenID = hash
		resp.RegistrationAccessToken = mgmt
		resp.RegistrationClientURI = r.cfg.RegistrationBaseURI + "/" + clientID
	}
	if err := r.backing.InsertClientRegistration(ctx, rec); err != nil {
		return nil, oidcerr.Persistence(err, "storing client registration")
	}

	log.Infow("client registered", "plugin", r.cfg.PluginName, "client", clientID)
	return resp, nil
}

// Authorize checks the management access token for clientID by hash.
func (r *Registrar) Authorize(ctx context.Context, clientID, managementToken string) (*store.ClientRegistration, error) {
	if !r.cfg.ManagementEnabled {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "registration management is disabled")
	}
	rec, err := r.backing.FindClientRegistration(ctx, r.cfg.PluginName, clientID)
	if err != nil && err != store.ErrNotFound {
		return nil, oidcerr.Persistence(err, "registration lookup failed")
	}
	if rec == nil || managementToken == "" || !r.hasher.Verify(rec.ManagementTokenID, managementToken) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "invalid registration access token")
	}
	return rec, nil
}

// Read returns the current metadata for a managed client.
func (r *Registrar) Read(ctx context.Context, clientID string) (*Metadata, error) {
	client, err := r.dir.GetClient(ctx, clientID)
	if err != nil {
		return nil, oidcerr.Persistence(err, "client directory lookup failed")
	}
	if client == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unknown client")
	}
	meta := translateFromHost(client)
	return &meta, nil
}

// Update replaces a managed client's metadata.
func (r *Registrar) Update(ctx context.Context, clientID string, meta Metadata) (*Metadata, error) {
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}
	existing, err := r.dir.GetClient(ctx, clientID)
	if err != nil {
		return nil, oidcerr.Persistence(err, "client directory lookup failed")
	}
	if existing == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unknown client")
	}
	client := translateToHost(clientID, meta)
	client.Confidential = existing.Confidential
	for k, v := range existing.Properties {
		if _, set := client.Properties[k]; !set {
			client.Properties[k] = v
		}
	}
	if err := r.writer.UpdateClient(ctx, client); err != nil {
		return nil, oidcerr.Persistence(err, "updating client in host directory")
	}
	return &meta, nil
}

// Delete removes a managed client and its registration record.
func (r *Registrar) Delete(ctx context.Context, clientID string) error {
	if err := r.writer.DeleteClient(ctx, clientID); err != nil {
		return oidcerr.Persistence(err, "deleting client from host directory")
	}
	if err := r.backing.DeleteClientRegistration(ctx, r.cfg.PluginName, clientID); err != nil {
		return oidcerr.Persistence(err, "deleting client registration")
	}
	log.Infow("client deregistered", "plugin", r.cfg.PluginName, "client", clientID)
	return nil
}

func validateMetadata(meta Metadata) error {
	if len(meta.RedirectURIs) == 0 {
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "redirect_uris is required")
	}
	switch meta.TokenEndpointAuthMethod {
	case "", "none", "client_secret_post", "client_secret_basic", "client_secret_jwt",
		"private_key_jwt", "tls_client_auth", "self_signed_tls_client_auth":
	default:
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unsupported token_endpoint_auth_method")
	}
	return nil
}

func usesSecret(method string) bool {
	switch method {
	case "", "client_secret_post", "client_secret_basic", "client_secret_jwt":
		return true
	default:
		return false
	}
}

// translateToHost maps the DCR schema onto the host directory's client
// shape (redirect_uris -> redirect_uri, client_name -> name, grant_types ->
// authorization_type).
func translateToHost(clientID string, meta Metadata) *host.Client {
	client := &host.Client{
		ID:                  clientID,
		Name:                meta.ClientName,
		RedirectURIs:        meta.RedirectURIs,
		ResponseTypes:       meta.ResponseTypes,
		GrantTypes:          meta.GrantTypes,
		SectorIdentifierURI: meta.SectorIdentifierURI,
		Properties:          map[string]string{},
	}
	if meta.TokenEndpointAuthMethod != "" {
		client.TokenEndpointAuthMethods = []string{meta.TokenEndpointAuthMethod}
	}
	for _, g := range meta.GrantTypes {
		switch g {
		case "authorization_code":
			client.AuthorizationTypes = append(client.AuthorizationTypes, "code")
		case "password", "client_credentials", "refresh_token", "delete_token":
			client.AuthorizationTypes = append(client.AuthorizationTypes, g)
		case "urn:ietf:params:oauth:grant-type:device_code":
			client.AuthorizationTypes = append(client.AuthorizationTypes, "device_code")
		}
	}
	if meta.Scope != "" {
		client.Scopes = splitScope(meta.Scope)
	}
	if meta.JWKSURI != "" {
		client.Properties["jwks_uri"] = meta.JWKSURI
	}
	return client
}

func translateFromHost(client *host.Client) Metadata {
	meta := Metadata{
		RedirectURIs:        client.RedirectURIs,
		ClientName:          client.Name,
		ResponseTypes:       client.ResponseTypes,
		GrantTypes:          client.GrantTypes,
		SectorIdentifierURI: client.SectorIdentifierURI,
	}
	if len(client.TokenEndpointAuthMethods) > 0 {
		meta.TokenEndpointAuthMethod = client.TokenEndpointAuthMethods[0]
	}
	if len(client.Scopes) > 0 {
		meta.Scope = joinScope(client.Scopes)
	}
	if uri, ok := client.Property("jwks_uri"); ok {
		meta.JWKSURI = uri
	}
	return meta
}

func splitScope(s string) []string { return strings.Fields(s) }

func joinScope(scopes []string) string { return strings.Join(scopes, " ") }

func randomAlnum(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alnum[int(b)%len(alnum)]
	}
	return string(buf), nil
}
