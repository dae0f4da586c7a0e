// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"encoding/json"
	"fmt"
)

// discoveryDocument is the RFC 8414 / OIDC Discovery metadata shape.
type discoveryDocument struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	UserinfoEndpoint                   string   `json:"userinfo_endpoint"`
	JWKSURI                            string   `json:"jwks_uri"`
	RegistrationEndpoint               string   `json:"registration_endpoint,omitempty"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint"`
	RevocationEndpoint                 string   `json:"revocation_endpoint"`
	PushedAuthorizationRequestEndpoint string   `json:"pushed_authorization_request_endpoint,omitempty"`
	DeviceAuthorizationEndpoint        string   `json:"device_authorization_endpoint,omitempty"`
	EndSessionEndpoint                 string   `json:"end_session_endpoint"`
	CheckSessionIframe                 string   `json:"check_session_iframe"`
	ScopesSupported                    []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported             []string `json:"response_types_supported"`
	ResponseModesSupported             []string `json:"response_modes_supported"`
	GrantTypesSupported                []string `json:"grant_types_supported"`
	SubjectTypesSupported              []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported   []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported"`
	RequestParameterSupported          bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported       bool     `json:"request_uri_parameter_supported"`
	RequirePushedAuthorizationRequests bool     `json:"require_pushed_authorization_requests"`
	DPoPSigningAlgValuesSupported      []string `json:"dpop_signing_alg_values_supported"`
	AuthorizationDetailsTypesSupported []string `json:"authorization_details_types_supported,omitempty"`
	ClaimsParameterSupported           bool     `json:"claims_parameter_supported"`
	TLSClientCertificateBoundTokens    bool     `json:"tls_client_certificate_bound_access_tokens"`
	MTLSEndpointAliases                map[string]string `json:"mtls_endpoint_aliases,omitempty"`
}

// buildDiscovery renders the openid-configuration document once at
// startup; signingAlg is the default key's algorithm.
func buildDiscovery(cfg *Config, signingAlg string) (string, error) {
	base := cfg.BaseURL
	doc := discoveryDocument{
		Issuer:                base + "/" + cfg.PluginName,
		AuthorizationEndpoint: base + "/" + cfg.PluginName + "/auth",
		TokenEndpoint:         base + "/" + cfg.PluginName + "/token",
		UserinfoEndpoint:      base + "/" + cfg.PluginName + "/userinfo",
		JWKSURI:               base + "/" + cfg.PluginName + "/jwks",
		IntrospectionEndpoint: base + "/" + cfg.PluginName + "/introspect",
		RevocationEndpoint:    base + "/" + cfg.PluginName + "/revoke",
		EndSessionEndpoint:    base + "/" + cfg.PluginName + "/end_session",
		CheckSessionIframe:    base + "/" + cfg.PluginName + "/check_session_iframe",

		ResponseModesSupported:           []string{"query", "fragment", "form_post"},
		SubjectTypesSupported:            []string{string(cfg.SubjectType)},
		IDTokenSigningAlgValuesSupported: []string{signingAlg},
		TokenEndpointAuthMethodsSupported: []string{
			"none", "client_secret_post", "client_secret_basic",
			"client_secret_jwt", "private_key_jwt",
			"tls_client_auth", "self_signed_tls_client_auth",
		},
		DPoPSigningAlgValuesSupported:      []string{"RS256", "ES256", "ES384", "ES512", "PS256", "EdDSA"},
		RequestParameterSupported:          cfg.JAREnabled,
		RequestURIParameterSupported:       cfg.JAREnabled || cfg.PAREnabled,
		RequirePushedAuthorizationRequests: cfg.PARRequired,
		ClaimsParameterSupported:           true,
		TLSClientCertificateBoundTokens:    true,
	}

	doc.CodeChallengeMethodsSupported = []string{"S256"}
	if cfg.AllowPlainPKCE {
		doc.CodeChallengeMethodsSupported = []string{"plain", "S256"}
	}

	for _, f := range cfg.Flows {
		switch f {
		case FlowCode:
			doc.ResponseTypesSupported = append(doc.ResponseTypesSupported, "code", "code id_token", "code token", "code id_token token")
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "authorization_code")
		case FlowImplicit:
			doc.ResponseTypesSupported = append(doc.ResponseTypesSupported, "id_token", "token", "id_token token")
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "implicit")
		case FlowPassword:
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "password")
		case FlowClientCredentials:
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "client_credentials")
		case FlowRefresh:
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "refresh_token")
		case FlowDevice:
			doc.GrantTypesSupported = append(doc.GrantTypesSupported, "urn:ietf:params:oauth:grant-type:device_code")
			doc.DeviceAuthorizationEndpoint = base + "/" + cfg.PluginName + "/device_authorization"
		case FlowNone:
			doc.ResponseTypesSupported = append(doc.ResponseTypesSupported, "none")
		}
	}
	if cfg.PAREnabled {
		doc.PushedAuthorizationRequestEndpoint = base + "/" + cfg.PluginName + "/par"
	}
	if cfg.RegisterEnabled {
		doc.RegistrationEndpoint = base + "/" + cfg.PluginName + "/register"
	}
	for _, t := range cfg.AuthorizationDetailTypes {
		doc.AuthorizationDetailsTypesSupported = append(doc.AuthorizationDetailsTypesSupported, t.Type)
	}
	if cfg.ClientCertUseEndpointAliases {
		mtls := base + "/" + cfg.PluginName + "/mtls"
		doc.MTLSEndpointAliases = map[string]string{
			"token_endpoint":         mtls + "/token",
			"introspection_endpoint": mtls + "/introspect",
			"revocation_endpoint":    mtls + "/revoke",
			"userinfo_endpoint":      mtls + "/userinfo",
		}
		if cfg.PAREnabled {
			doc.MTLSEndpointAliases["pushed_authorization_request_endpoint"] = mtls + "/par"
		}
		if cfg.FlowEnabled(FlowDevice) {
			doc.MTLSEndpointAliases["device_authorization_endpoint"] = mtls + "/device_authorization"
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("oidc: rendering discovery document: %w", err)
	}
	return string(raw), nil
}

// checkSessionIFrame is the OP iframe for OIDC Session Management; it
// compares the RP-supplied state against the host session cookie and posts
// changed/unchanged back to the RP frame.
const checkSessionIFrame = `<!DOCTYPE html>
<html><head><title>Check Session</title><script>
window.addEventListener("message", function (e) {
	var parts = (e.data || "").split(" ");
	if (parts.length !== 2) { e.source.postMessage("error", e.origin); return; }
	var stat = "unchanged";
	try {
		if (parts[1] !== document.cookie) { stat = "changed"; }
	} catch (err) { stat = "error"; }
	e.source.postMessage(stat, e.origin);
}, false);
</script></head><body></body></html>`
