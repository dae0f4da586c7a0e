// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"encoding/json"
	"strings"

	"github.com/ory/fosite"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// RARType declares one recognized authorization_details type: the values a
// request element of that type may carry and the scopes that must back
// it (RFC 9396).
type RARType struct {
	Type      string
	Locations []string
	Actions   []string
	Datatypes []string
	// Scopes is the type's scope set; at least one must survive scope
	// reduction for an element of this type to be accepted.
	Scopes []string
	// Enriched lists the access.* keys an element may carry.
	Enriched []string
}

// RARDetail is one parsed authorization_details element.
type RARDetail struct {
	Type      string         `json:"type"`
	Locations []string       `json:"locations,omitempty"`
	Actions   []string       `json:"actions,omitempty"`
	Datatypes []string       `json:"datatypes,omitempty"`
	Access    map[string]any `json:"access,omitempty"`

	// Raw preserves the element verbatim for token embedding.
	Raw map[string]any `json:"-"`
}

// validateAuthDetails validates the authorization_details
// parameter.
func (v *Validator) validateAuthDetails(req *AuthorizationRequest, client *host.Client) error {
	if req.AuthDetailsRaw == "" {
		return nil
	}
	details, err := ParseAuthorizationDetails(req.AuthDetailsRaw)
	if err != nil {
		return err
	}

	var clientAllowed []string
	if v.cfg.RARTypesClientProperty != "" {
		if raw, ok := client.Property(v.cfg.RARTypesClientProperty); ok {
			clientAllowed = fosite.RemoveEmpty(strings.Split(raw, " "))
		}
	}

	for _, d := range details {
		decl := v.typeDecl(d.Type)
		if decl == nil {
			return oidcerr.Protocolf(oidcerr.CodeInvalidRequest, nil, "unknown authorization_details type %q", d.Type)
		}
		if len(clientAllowed) > 0 && !fosite.ExactScopeStrategy(clientAllowed, d.Type) {
			return oidcerr.Protocolf(oidcerr.CodeUnauthorizedClient, nil, "authorization_details type %q not allowed for client", d.Type)
		}
		if !subset(d.Locations, decl.Locations) {
			return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "authorization_details locations exceed type declaration")
		}
		if !subset(d.Actions, decl.Actions) {
			return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "authorization_details actions exceed type declaration")
		}
		if !subset(d.Datatypes, decl.Datatypes) {
			return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "authorization_details datatypes exceed type declaration")
		}
		if !anyScopePresent(decl.Scopes, req.Scopes) {
			return oidcerr.Protocolf(oidcerr.CodeInvalidScope, nil, "no scope of authorization_details type %q was requested", d.Type)
		}
		for key := range d.Access {
			if !contains(decl.Enriched, key) {
				return oidcerr.Protocolf(oidcerr.CodeInvalidRequest, nil, "access key %q is not enriched for type %q", key, d.Type)
			}
		}
	}
	req.AuthDetails = details
	return nil
}

func (v *Validator) typeDecl(typ string) *RARType {
	for i := range v.cfg.RARTypes {
		if v.cfg.RARTypes[i].Type == typ {
			return &v.cfg.RARTypes[i]
		}
	}
	return nil
}

// ParseAuthorizationDetails decodes an authorization_details JSON array into
// typed elements, preserving each element's raw form.
func ParseAuthorizationDetails(raw string) ([]RARDetail, error) {
	var rawElems []map[string]any
	if err := json.Unmarshal([]byte(raw), &rawElems); err != nil {
		return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "authorization_details must be a JSON array")
	}
	details := make([]RARDetail, 0, len(rawElems))
	for _, elem := range rawElems {
		reencoded, err := json.Marshal(elem)
		if err != nil {
			return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "unserializable authorization_details element")
		}
		var d RARDetail
		if err := json.Unmarshal(reencoded, &d); err != nil {
			return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed authorization_details element")
		}
		if d.Type == "" {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "authorization_details element missing type")
		}
		d.Raw = elem
		details = append(details, d)
	}
	return details, nil
}

func subset(requested, declared []string) bool {
	for _, r := range requested {
		if !contains(declared, r) {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

func anyScopePresent(typeScopes []string, requested fosite.Arguments) bool {
	for _, s := range typeScopes {
		if requested.Has(s) {
			return true
		}
	}
	return false
}
