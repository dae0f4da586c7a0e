// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	josejwk "github.com/go-jose/go-jose/v4"
)

// ThumbprintForKey computes the RFC 7638 JWK thumbprint of a public key and
// base64url-encodes it, used both as a default kid and as the basis for jkt.
func ThumbprintForKey(pub any) (string, error) {
	jwk := josejwk.JSONWebKey{Key: pub}
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("crypto: thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// JKTFromJWK computes the DPoP `jkt` confirmation value (RFC 7638 thumbprint
// of the JWK carried in a DPoP proof's `jwk` header) from an already-parsed
// JSON Web Key.
func JKTFromJWK(jwk *josejwk.JSONWebKey) (string, error) {
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("crypto: jkt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// X5TS256 computes the `x5t#S256` confirmation value for a client's
// presented TLS certificate: the SHA-256 digest of the DER-encoded cert.
func X5TS256(cert *x509.Certificate) string {
	return sha256Sum(cert.Raw)
}

func sha256Sum(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func sha256Raw(der []byte) []byte {
	sum := sha256.Sum256(der)
	return sum[:]
}
