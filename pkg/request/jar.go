// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	gojose "github.com/go-jose/go-jose/v4"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

var jarAlgs = []gojose.SignatureAlgorithm{
	gojose.RS256, gojose.RS384, gojose.RS512,
	gojose.ES256, gojose.ES384, gojose.ES512,
	gojose.PS256, gojose.PS384, gojose.PS512,
	gojose.EdDSA,
}

// maxJARSize bounds a fetched request object.
const maxJARSize = 64 * 1024

// resolveJAR fetches (when referenced by URI), verifies, and flattens a JWT
// Secured Authorization Request into a parameter set.
func (v *Validator) resolveJAR(ctx context.Context, params url.Values, requestJWT, requestURI string) (url.Values, error) {
	if requestJWT == "" {
		fetched, err := v.fetchJAR(ctx, requestURI)
		if err != nil {
			return nil, err
		}
		requestJWT = fetched
	}

	sig, err := gojose.ParseSigned(requestJWT, jarAlgs)
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "malformed request object")
	}
	var unverified map[string]any
	if err := json.Unmarshal(sig.UnsafePayloadWithoutVerification(), &unverified); err != nil {
		return nil, oidcerr.CryptoClient(err, "unreadable request object claims")
	}

	clientID := params.Get("client_id")
	jarClientID, _ := unverified["client_id"].(string)
	if clientID != "" && jarClientID != "" && clientID != jarClientID {
		return nil, oidcerr.Protocol(oidcerr.CodeUnauthorizedClient, "request object client_id contradicts URL parameter")
	}
	if clientID == "" {
		clientID = jarClientID
	}
	if clientID == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "request object carries no client_id")
	}

	client, err := v.dir.GetClient(ctx, clientID)
	if err != nil {
		return nil, oidcerr.Persistence(err, "client directory lookup failed")
	}
	if client == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "unknown client")
	}
	set, err := oidccrypto.ResolveClientJWKS(ctx, v.hc, oidccrypto.ClientKeySource{
		JWKSJSON:  clientProp(client, v.cfg.JWKSProperty),
		JWKSURI:   clientProp(client, v.cfg.JWKSURIProperty),
		PubkeyPEM: clientProp(client, v.cfg.PubkeyProperty),
	})
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "resolving client keys for request object")
	}
	jwk, err := oidccrypto.SelectClientKey(set, sig.Signatures[0].Header.KeyID)
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "selecting client key for request object")
	}
	payload, err := sig.Verify(jwk.Key)
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "request object signature verification failed")
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, oidcerr.CryptoClient(err, "unreadable request object claims")
	}
	return flattenJARClaims(claims)
}

func clientProp(c interface{ Property(string) (string, bool) }, name string) string {
	if name == "" {
		return ""
	}
	v, _ := c.Property(name)
	return v
}

func (v *Validator) fetchJAR(ctx context.Context, uri string) (string, error) {
	hc := v.hc
	if hc == nil {
		hc = &http.Client{Timeout: oidccrypto.DefaultHTTPTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "malformed request_uri")
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", oidcerr.CryptoServer(err, "fetching request_uri")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", oidcerr.Protocolf(oidcerr.CodeInvalidRequest, nil, "request_uri returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxJARSize))
	if err != nil {
		return "", oidcerr.CryptoServer(err, "reading request_uri response")
	}
	return string(raw), nil
}

// flattenJARClaims turns the request object's claim map back into wire
// parameters; structured members (claims, authorization_details) are
// re-serialized as the JSON strings the rest of the pipeline expects.
func flattenJARClaims(claims map[string]any) (url.Values, error) {
	out := url.Values{}
	for k, val := range claims {
		switch k {
		case "iss", "aud", "exp", "iat", "nbf", "jti":
			continue
		}
		switch tv := val.(type) {
		case string:
			out.Set(k, tv)
		case float64:
			out.Set(k, fmt.Sprintf("%d", int64(tv)))
		case bool:
			if tv {
				out.Set(k, "true")
			} else {
				out.Set(k, "false")
			}
		default:
			raw, err := json.Marshal(val)
			if err != nil {
				return nil, oidcerr.Protocolf(oidcerr.CodeInvalidRequest, err, "unserializable request object member %q", k)
			}
			out.Set(k, string(raw))
		}
	}
	return out, nil
}

// verifyWithSet reports whether jwtString verifies under any key of set.
func verifyWithSet(jwtString string, set *gojose.JSONWebKeySet) bool {
	sig, err := gojose.ParseSigned(jwtString, jarAlgs)
	if err != nil {
		return false
	}
	kid := sig.Signatures[0].Header.KeyID
	candidates := set.Keys
	if kid != "" {
		candidates = set.Key(kid)
	}
	for _, k := range candidates {
		if _, err := sig.Verify(k.Key); err == nil {
			return true
		}
	}
	return false
}
