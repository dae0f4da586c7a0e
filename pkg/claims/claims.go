// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package claims implements the Claim/Scope Assembler: building
// userinfo and ID-token claim sets from a host user record, the requested
// scopes, an optional claims-request object, and the address-claim
// configuration.
package claims

import (
	"fmt"
	"strings"

	"github.com/ssoplugins/oidcauthz/pkg/host"
)

// ValueType is the coercion applied to a configured claim's user-property
// value before it is placed in the claim set.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
	TypeNumber  ValueType = "number"
)

// ClaimConfig declares how one claim is derived from a user property.
type ClaimConfig struct {
	Name             string
	UserProperty     string
	Type             ValueType
	BoolValueTrue    string
	BoolValueFalse   string
	Mandatory        bool
	OnDemand         bool
	ScopeScopes      []string // scopes that trigger emitting this claim
}

// AddressConfig names the six user properties composing the OIDC "address"
// composite claim.
type AddressConfig struct {
	Formatted     string
	StreetAddress string
	Locality      string
	Region        string
	PostalCode    string
	Country       string
}

// forbiddenClaimNames are reserved by the protocol and may never be
// redefined by configuration.
var forbiddenClaimNames = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "iat": {}, "auth_time": {},
	"nonce": {}, "acr": {}, "amr": {}, "azp": {}, "name": {}, "email": {}, "address": {},
}

// IsForbiddenClaimName reports whether name collides with a protocol claim
// and therefore cannot be declared in Config.Claims.
func IsForbiddenClaimName(name string) bool {
	_, forbidden := forbiddenClaimNames[name]
	return forbidden
}

// Config is the assembler's static, validated configuration.
type Config struct {
	Claims  []ClaimConfig
	Address *AddressConfig
}

// Validate rejects a configuration that redeclares a protocol-reserved
// claim name.
func (c Config) Validate() error {
	for _, cl := range c.Claims {
		if IsForbiddenClaimName(cl.Name) {
			return fmt.Errorf("claims: %q is a reserved protocol claim name and cannot be configured", cl.Name)
		}
	}
	return nil
}

// ClaimsRequestMember is one entry of the OIDC `claims` request parameter's
// userinfo/id_token container (RFC, §5.5).
type ClaimsRequestMember struct {
	Essential bool
	Value     any
	Values    []any
	// Present is true when the member key appeared at all (possibly with a
	// null/empty object value, which still means "include if available").
	Present bool
}

// ClaimsRequest is the parsed `claims` request parameter.
type ClaimsRequest struct {
	UserInfo map[string]ClaimsRequestMember
	IDToken  map[string]ClaimsRequestMember
}

// Assembler builds claim sets per Config.
type Assembler struct {
	cfg Config
}

// New builds an Assembler from a validated Config.
func New(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Assemble returns the claim set for sub, given the requested scopes and an
// optional claims-request container (userinfo or id_token, selected by the
// caller). Every claim beyond "sub" is scope- or claims-request-driven;
// there is no other "always present" claim at this layer.
func (a *Assembler) Assemble(sub string, user *host.User, scopes []string, request map[string]ClaimsRequestMember) map[string]any {
	out := map[string]any{"sub": sub}
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = struct{}{}
	}

	for _, cl := range a.cfg.Claims {
		member, requested := request[cl.Name]
		scopeTriggers := claimScopeTriggered(cl, scopeSet)

		include := cl.Mandatory || scopeTriggers
		if requested {
			// essential is treated as "required-if-present": include when
			// the property exists on the user record, regardless of scope.
			include = include || member.Present
		}
		if !include {
			continue
		}
		if cl.OnDemand && !requested && !scopeTriggers {
			continue
		}

		val, ok := userPropertyValue(user, cl.UserProperty)
		if !ok {
			continue
		}
		out[cl.Name] = coerce(val, cl)
	}

	if a.cfg.Address != nil && addressRequested(scopeSet, request) {
		if addr := a.buildAddress(user); addr != nil {
			out["address"] = addr
		}
	}

	return out
}

func claimScopeTriggered(cl ClaimConfig, scopeSet map[string]struct{}) bool {
	for _, s := range cl.ScopeScopes {
		if _, ok := scopeSet[s]; ok {
			return true
		}
	}
	return false
}

func addressRequested(scopeSet map[string]struct{}, request map[string]ClaimsRequestMember) bool {
	if _, ok := scopeSet["address"]; ok {
		return true
	}
	_, ok := request["address"]
	return ok
}

func userPropertyValue(user *host.User, property string) (any, bool) {
	if user == nil || user.Properties == nil {
		return nil, false
	}
	v, ok := user.Properties[property]
	return v, ok
}

func coerce(val any, cl ClaimConfig) any {
	switch cl.Type {
	case TypeBoolean:
		return coerceBoolean(val, cl)
	case TypeNumber:
		return coerceNumber(val)
	default:
		return coerceString(val)
	}
}

func coerceString(val any) any {
	switch v := val.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = coerceString(e)
		}
		return out
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceNumber(val any) any {
	switch v := val.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = coerceNumber(e)
		}
		return out
	default:
		return v
	}
}

func coerceBoolean(val any, cl ClaimConfig) any {
	switch v := val.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = coerceBoolean(e, cl)
		}
		return out
	case bool:
		return mapBool(v, cl)
	case string:
		return mapBool(truthyString(v), cl)
	default:
		return v
	}
}

func truthyString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func mapBool(b bool, cl ClaimConfig) any {
	if b {
		if cl.BoolValueTrue != "" {
			return cl.BoolValueTrue
		}
		return true
	}
	if cl.BoolValueFalse != "" {
		return cl.BoolValueFalse
	}
	return false
}

func (a *Assembler) buildAddress(user *host.User) map[string]any {
	cfg := a.cfg.Address
	addr := map[string]any{}
	fields := map[string]string{
		"formatted":      cfg.Formatted,
		"street_address": cfg.StreetAddress,
		"locality":       cfg.Locality,
		"region":         cfg.Region,
		"postal_code":    cfg.PostalCode,
		"country":        cfg.Country,
	}
	for claimKey, property := range fields {
		if property == "" {
			continue
		}
		if v, ok := userPropertyValue(user, property); ok {
			addr[claimKey] = coerceString(v)
		}
	}
	if len(addr) == 0 {
		return nil
	}
	return addr
}
