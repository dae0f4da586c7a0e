// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	josejwk "github.com/go-jose/go-jose/v4"
)

// publicJWKS strips private keys to their public counterparts and assembles
// an RFC 7517 set, optionally carrying an x5c chain for PEM-only configs.
func publicJWKS(keys []*SigningKeyData) (*josejwk.JSONWebKeySet, error) {
	set := &josejwk.JSONWebKeySet{Keys: make([]josejwk.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		jwk, err := publicJWK(k)
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}

func publicJWK(k *SigningKeyData) (*josejwk.JSONWebKey, error) {
	pub := publicKeyOf(k.Key)
	if pub == nil {
		return nil, fmt.Errorf("crypto: key %s has no extractable public key", k.KeyID)
	}
	jwk := &josejwk.JSONWebKey{
		Key:       pub,
		KeyID:     k.KeyID,
		Algorithm: k.Algorithm,
		Use:       "sig",
	}
	if k.Cert != nil {
		jwk.Certificates = []*x509.Certificate{k.Cert}
		jwk.CertificateThumbprintSHA256 = sha256Raw(k.Cert.Raw)
	}
	return jwk, nil
}

func publicKeyOf(signer crypto.Signer) crypto.PublicKey {
	switch pub := signer.Public().(type) {
	case *ecdsa.PublicKey:
		return pub
	case *rsa.PublicKey:
		return pub
	case ed25519.PublicKey:
		return pub
	default:
		return nil
	}
}

// injectX5C attaches a caller-supplied certificate chain to every entry of a
// published JWKS, used for PEM-only configs lacking an embedded
// certificate chain.
func injectX5C(set *josejwk.JSONWebKeySet, chain [][]byte) (*josejwk.JSONWebKeySet, error) {
	if len(chain) == 0 {
		return set, nil
	}
	certs := make([]*x509.Certificate, 0, len(chain))
	for _, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid x5c entry: %w", err)
		}
		certs = append(certs, cert)
	}
	for i := range set.Keys {
		set.Keys[i].Certificates = certs
		set.Keys[i].CertificateThumbprintSHA256 = sha256Raw(certs[0].Raw)
	}
	return set, nil
}
