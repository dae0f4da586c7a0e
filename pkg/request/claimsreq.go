// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"encoding/json"

	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// ParseClaimsRequest decodes the OIDC `claims` request parameter into the
// assembler's typed form. A null member value still means "include if
// available", which Present records.
func ParseClaimsRequest(raw string) (*claims.ClaimsRequest, error) {
	var wire struct {
		UserInfo map[string]json.RawMessage `json:"userinfo"`
		IDToken  map[string]json.RawMessage `json:"id_token"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed claims parameter")
	}
	out := &claims.ClaimsRequest{
		UserInfo: make(map[string]claims.ClaimsRequestMember, len(wire.UserInfo)),
		IDToken:  make(map[string]claims.ClaimsRequestMember, len(wire.IDToken)),
	}
	for name, rawMember := range wire.UserInfo {
		m, err := parseMember(rawMember)
		if err != nil {
			return nil, err
		}
		out.UserInfo[name] = m
	}
	for name, rawMember := range wire.IDToken {
		m, err := parseMember(rawMember)
		if err != nil {
			return nil, err
		}
		out.IDToken[name] = m
	}
	return out, nil
}

func parseMember(raw json.RawMessage) (claims.ClaimsRequestMember, error) {
	member := claims.ClaimsRequestMember{Present: true}
	if len(raw) == 0 || string(raw) == "null" {
		return member, nil
	}
	var body struct {
		Essential bool  `json:"essential"`
		Value     any   `json:"value"`
		Values    []any `json:"values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return member, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed claims member")
	}
	member.Essential = body.Essential
	member.Value = body.Value
	member.Values = body.Values
	return member, nil
}
