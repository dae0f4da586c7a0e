// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssoplugins/oidcauthz/pkg/host"
)

func testUser() *host.User {
	return &host.User{
		Username: "alice",
		Properties: map[string]any{
			"mail":         "alice@example.com",
			"display":      "Alice Example",
			"admin":        "yes",
			"login_count":  float64(7),
			"street":       "1 Main St",
			"city":         "Springfield",
			"groups":       []any{"dev", "ops"},
		},
	}
}

func profileConfig() Config {
	return Config{
		Claims: []ClaimConfig{
			{Name: "preferred_username", UserProperty: "display", Type: TypeString, ScopeScopes: []string{"profile"}},
			{Name: "contact_email", UserProperty: "mail", Type: TypeString, ScopeScopes: []string{"email"}},
			{Name: "is_admin", UserProperty: "admin", Type: TypeBoolean, BoolValueTrue: "admin", BoolValueFalse: "user", ScopeScopes: []string{"profile"}},
			{Name: "login_count", UserProperty: "login_count", Type: TypeNumber, ScopeScopes: []string{"profile"}},
			{Name: "memberships", UserProperty: "groups", Type: TypeString, OnDemand: true},
		},
		Address: &AddressConfig{StreetAddress: "street", Locality: "city"},
	}
}

func TestAssemble_ScopeDriven(t *testing.T) {
	t.Parallel()

	a := New(profileConfig())
	out := a.Assemble("subj-1", testUser(), []string{"openid", "profile"}, nil)

	assert.Equal(t, "subj-1", out["sub"])
	assert.Equal(t, "Alice Example", out["preferred_username"])
	assert.Equal(t, "admin", out["is_admin"])
	assert.Equal(t, float64(7), out["login_count"])
	// email scope not requested.
	_, present := out["contact_email"]
	assert.False(t, present)
	// on-demand claims need an explicit request.
	_, present = out["memberships"]
	assert.False(t, present)
}

func TestAssemble_SubOnlyWithoutTriggers(t *testing.T) {
	t.Parallel()

	a := New(profileConfig())
	out := a.Assemble("subj-1", testUser(), []string{"openid"}, nil)
	assert.Equal(t, map[string]any{"sub": "subj-1"}, out)
}

func TestAssemble_ClaimsRequestDriven(t *testing.T) {
	t.Parallel()

	a := New(profileConfig())
	request := map[string]ClaimsRequestMember{
		"contact_email": {Present: true, Essential: true},
		"memberships":   {Present: true},
	}
	out := a.Assemble("subj-1", testUser(), []string{"openid"}, request)

	assert.Equal(t, "alice@example.com", out["contact_email"])
	assert.Equal(t, []any{"dev", "ops"}, out["memberships"])
}

func TestAssemble_Address(t *testing.T) {
	t.Parallel()

	a := New(profileConfig())
	out := a.Assemble("subj-1", testUser(), []string{"openid", "address"}, nil)

	addr, ok := out["address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1 Main St", addr["street_address"])
	assert.Equal(t, "Springfield", addr["locality"])
	_, present := addr["country"]
	assert.False(t, present)
}

func TestAssemble_BooleanArrayCoercion(t *testing.T) {
	t.Parallel()

	cfg := Config{Claims: []ClaimConfig{
		{Name: "flags", UserProperty: "flags", Type: TypeBoolean, BoolValueTrue: "on", BoolValueFalse: "off", ScopeScopes: []string{"profile"}},
	}}
	user := &host.User{Properties: map[string]any{"flags": []any{true, false, "yes"}}}

	out := New(cfg).Assemble("s", user, []string{"profile"}, nil)
	assert.Equal(t, []any{"on", "off", "on"}, out["flags"])
}

func TestConfigValidate_ForbiddenNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"iss", "sub", "aud", "exp", "iat", "auth_time", "nonce", "acr", "amr", "azp", "name", "email", "address"} {
		cfg := Config{Claims: []ClaimConfig{{Name: name, UserProperty: "p"}}}
		assert.Error(t, cfg.Validate(), "claim %q must be rejected", name)
	}
	cfg := Config{Claims: []ClaimConfig{{Name: "department", UserProperty: "dept"}}}
	assert.NoError(t, cfg.Validate())
}

func TestAssemble_MissingPropertySkipped(t *testing.T) {
	t.Parallel()

	cfg := Config{Claims: []ClaimConfig{
		{Name: "phone", UserProperty: "absent", Type: TypeString, Mandatory: true},
	}}
	out := New(cfg).Assemble("s", testUser(), nil, nil)
	_, present := out["phone"]
	assert.False(t, present)
}
