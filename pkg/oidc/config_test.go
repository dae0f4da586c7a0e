// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/flows"
	"github.com/ssoplugins/oidcauthz/pkg/request"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

func validConfig() Config {
	return Config{
		PluginName: "oidc",
		Issuer:     "https://sso.example.com",
		Flows:      []Flow{FlowCode, FlowRefresh},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: nil},
		{name: "missing plugin name", mutate: func(c *Config) { c.PluginName = "" }, wantErr: "plugin name is required"},
		{name: "missing issuer", mutate: func(c *Config) { c.Issuer = "" }, wantErr: "issuer is required"},
		{name: "no flows", mutate: func(c *Config) { c.Flows = nil }, wantErr: "at least one flow"},
		{name: "unknown flow", mutate: func(c *Config) { c.Flows = []Flow{"banana"} }, wantErr: "unknown flow"},
		{name: "password without non-oidc", mutate: func(c *Config) { c.Flows = append(c.Flows, FlowPassword) }, wantErr: "allow-non-oidc"},
		{name: "par required without par", mutate: func(c *Config) { c.PARRequired = true }, wantErr: "par-required"},
		{name: "unknown subject type", mutate: func(c *Config) { c.SubjectType = "secret" }, wantErr: "unknown subject type"},
		{name: "client one-use without property", mutate: func(c *Config) { c.RefreshOneUse = flows.OneUseClient }, wantErr: "client property name"},
		{name: "mariadb unavailable", mutate: func(c *Config) { c.StoreDialect = store.DialectMariaDB }, wantErr: "mariadb"},
		{name: "rar type without name", mutate: func(c *Config) {
			c.AuthorizationDetailTypes = []request.RARType{{Scopes: []string{"openid"}}}
		}, wantErr: "type name is required"},
		{name: "rar type without scopes", mutate: func(c *Config) {
			c.AuthorizationDetailTypes = []request.RARType{{Type: "payments"}}
		}, wantErr: "scope set is required"},
		{name: "reserved claim name", mutate: func(c *Config) {
			c.Claims.Claims = append(c.Claims.Claims, claimNamed("email"))
		}, wantErr: "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	cfg.applyDefaults()

	assert.Equal(t, cfg.Issuer, cfg.BaseURL)
	assert.Equal(t, store.SubjectPublic, cfg.SubjectType)
	assert.Equal(t, flows.OneUseNever, cfg.RefreshOneUse)
	assert.Equal(t, "sign_kid", cfg.SignKidProperty)
	assert.Equal(t, "client_secret", cfg.ClientSecretProperty)
	assert.NotZero(t, cfg.DPoPIATDuration)
}

func TestConfigTree(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	raw, err := cfg.Tree()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "oidc", decoded["PluginName"])
}

func TestBuildDiscovery(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Flows = []Flow{FlowCode, FlowRefresh, FlowDevice}
	cfg.PAREnabled = true
	cfg.JAREnabled = true
	cfg.RegisterEnabled = true
	cfg.ClientCertUseEndpointAliases = true
	require.NoError(t, cfg.Validate())
	cfg.applyDefaults()

	doc, err := buildDiscovery(&cfg, "ES256")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &decoded))

	assert.Equal(t, "https://sso.example.com/oidc", decoded["issuer"])
	assert.Equal(t, "https://sso.example.com/oidc/auth", decoded["authorization_endpoint"])
	assert.Equal(t, "https://sso.example.com/oidc/jwks", decoded["jwks_uri"])
	assert.Equal(t, "https://sso.example.com/oidc/par", decoded["pushed_authorization_request_endpoint"])
	assert.Equal(t, "https://sso.example.com/oidc/device_authorization", decoded["device_authorization_endpoint"])
	assert.Equal(t, "https://sso.example.com/oidc/register", decoded["registration_endpoint"])
	assert.Equal(t, true, decoded["request_parameter_supported"])

	grants, _ := decoded["grant_types_supported"].([]any)
	joined := make([]string, 0, len(grants))
	for _, g := range grants {
		joined = append(joined, g.(string))
	}
	assert.Contains(t, strings.Join(joined, " "), "urn:ietf:params:oauth:grant-type:device_code")

	aliases, ok := decoded["mtls_endpoint_aliases"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://sso.example.com/oidc/mtls/token", aliases["token_endpoint"])
}

func claimNamed(name string) claims.ClaimConfig {
	return claims.ClaimConfig{Name: name, UserProperty: "p"}
}
