// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	stdcrypto "crypto"
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
)

// MinRSAKeyBits is the smallest RSA modulus accepted for a declared
// jwt-type of "rsa" or "rsa-pss".
const MinRSAKeyBits = 2048

// pemProvider implements mode (b): a single PEM key+certificate pair with a
// declared jwt-type and size, rather than a file-based private JWKS.
type pemProvider struct {
	key *SigningKeyData
	x5c [][]byte
}

func newPEMProvider(cfg Config) (Provider, error) {
	raw, err := os.ReadFile(cfg.PEMKeyFile)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to read PEM key file: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in %s", cfg.PEMKeyFile)
	}
	signer, _, err := parseSigner(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to parse PEM key: %w", err)
	}

	alg, err := algorithmForDeclaredType(cfg.JWTType, cfg.JWTKeySize)
	if err != nil {
		return nil, err
	}
	if err := validateKeyMatchesType(signer, cfg.JWTType); err != nil {
		return nil, err
	}

	var cert *x509.Certificate
	if cfg.PEMCertFile != "" {
		certRaw, err := os.ReadFile(cfg.PEMCertFile)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to read PEM cert file: %w", err)
		}
		certBlock, _ := pem.Decode(certRaw)
		if certBlock == nil {
			return nil, fmt.Errorf("crypto: no PEM block found in %s", cfg.PEMCertFile)
		}
		cert, err = x509.ParseCertificate(certBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: failed to parse PEM cert: %w", err)
		}
	}

	kid, err := ThumbprintForKey(signer.Public())
	if err != nil {
		return nil, err
	}
	if cfg.DefaultKeyID != "" {
		kid = cfg.DefaultKeyID
	}

	data := &SigningKeyData{KeyID: kid, Algorithm: alg, Key: signer, Cert: cert, CreatedAt: time.Now()}
	p := &pemProvider{key: data}
	if len(cfg.X5C) > 0 && cert == nil {
		// x5c injection is applied at JWKS-publish time so PublicKeys keeps
		// returning the bare key for signing-path callers.
		p.x5c = cfg.X5C
	}
	return p, nil
}

func algorithmForDeclaredType(jwtType string, size int) (string, error) {
	switch jwtType {
	case "rsa":
		return fmt.Sprintf("RS%d", size), nil
	case "rsa-pss":
		return fmt.Sprintf("PS%d", size), nil
	case "ecdsa":
		switch size {
		case 256, 384, 512:
			return fmt.Sprintf("ES%d", size), nil
		}
		return "", fmt.Errorf("crypto: unsupported ecdsa size %d", size)
	case "eddsa":
		return "EdDSA", nil
	case "sha":
		return fmt.Sprintf("HS%d", size), nil
	default:
		return "", fmt.Errorf("crypto: unsupported jwt-type %q", jwtType)
	}
}

func validateKeyMatchesType(signer stdcrypto.Signer, jwtType string) error {
	switch jwtType {
	case "rsa", "rsa-pss":
		rk, ok := signer.(*rsa.PrivateKey)
		if !ok {
			return fmt.Errorf("crypto: jwt-type %q requires an RSA key", jwtType)
		}
		if rk.N.BitLen() < MinRSAKeyBits {
			return fmt.Errorf("crypto: RSA key must be at least %d bits", MinRSAKeyBits)
		}
	case "eddsa":
		if _, ok := signer.(ed25519.PrivateKey); !ok {
			return fmt.Errorf("crypto: jwt-type %q requires an Ed25519 key", jwtType)
		}
	}
	return nil
}

func (p *pemProvider) SigningKey(context.Context) (*SigningKeyData, error) { return p.key, nil }

func (p *pemProvider) KeyByID(_ context.Context, kid string) (*SigningKeyData, error) {
	if p.key.KeyID != kid {
		return nil, fmt.Errorf("crypto: unknown kid %q", kid)
	}
	return p.key, nil
}

func (p *pemProvider) PublicKeys(context.Context) ([]*SigningKeyData, error) {
	return []*SigningKeyData{p.key}, nil
}

func (p *pemProvider) JWKS(context.Context) (*josejwk.JSONWebKeySet, error) {
	set, err := publicJWKS([]*SigningKeyData{p.key})
	if err != nil {
		return nil, err
	}
	if p.key.Cert == nil && len(p.x5c) > 0 {
		return injectX5C(set, p.x5c)
	}
	return set, nil
}
