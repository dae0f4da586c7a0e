// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
)

// ClientKeySource names the client-declared properties key material may be
// read from, in precedence order: an inline jwks document, a jwks_uri, or a
// single PEM public key. Property names are configurable;
// these are the resolved values, not the names.
type ClientKeySource struct {
	JWKSJSON  string
	JWKSURI   string
	PubkeyPEM string
}

// DefaultHTTPTimeout bounds outbound jwks_uri / request_uri fetches.
const DefaultHTTPTimeout = 10 * time.Second

// ResolveClientJWKS materializes a client's declared key set from whichever
// source is populated, trying them in precedence order.
func ResolveClientJWKS(ctx context.Context, hc *http.Client, src ClientKeySource) (*josejwk.JSONWebKeySet, error) {
	switch {
	case src.JWKSJSON != "":
		var set josejwk.JSONWebKeySet
		if err := json.Unmarshal([]byte(src.JWKSJSON), &set); err != nil {
			return nil, fmt.Errorf("crypto: parsing client jwks property: %w", err)
		}
		return &set, nil
	case src.JWKSURI != "":
		return FetchJWKS(ctx, hc, src.JWKSURI)
	case src.PubkeyPEM != "":
		pub, err := ParsePublicKeyPEM(src.PubkeyPEM)
		if err != nil {
			return nil, err
		}
		return &josejwk.JSONWebKeySet{Keys: []josejwk.JSONWebKey{{Key: pub}}}, nil
	default:
		return nil, fmt.Errorf("crypto: client declares no key material")
	}
}

// SelectClientKey picks the key matching kid from a client's key set, or the
// sole key when kid is empty and exactly one key is declared.
func SelectClientKey(set *josejwk.JSONWebKeySet, kid string) (*josejwk.JSONWebKey, error) {
	if kid != "" {
		matches := set.Key(kid)
		if len(matches) == 0 {
			return nil, fmt.Errorf("crypto: client jwks has no key with kid %q", kid)
		}
		return &matches[0], nil
	}
	if len(set.Keys) == 1 {
		return &set.Keys[0], nil
	}
	return nil, fmt.Errorf("crypto: kid required to select among %d client keys", len(set.Keys))
}

// FetchJWKS retrieves and decodes a JWKS document over HTTPS.
func FetchJWKS(ctx context.Context, hc *http.Client, uri string) (*josejwk.JSONWebKeySet, error) {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: building jwks_uri request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto: fetching jwks_uri: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crypto: jwks_uri returned status %d", resp.StatusCode)
	}
	var set josejwk.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("crypto: decoding jwks_uri response: %w", err)
	}
	return &set, nil
}

// ParsePublicKeyPEM decodes a single PEM-encoded public key or certificate,
// returning the contained public key.
func ParsePublicKeyPEM(pemData string) (any, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block in client pubkey property")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		return cert.PublicKey, nil
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	return nil, fmt.Errorf("crypto: unsupported public key PEM in client pubkey property")
}
