// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	josejwe "github.com/go-jose/go-jose/v4"
)

// EncryptionParams describes how to wrap a token for one client, per the
// client's configured encryption alg/enc and key material.
type EncryptionParams struct {
	// Alg is one of the symmetric KW algs, "dir", "PBES2-HS*", or an
	// asymmetric alg (ECDH-ES*, RSA-OAEP*, RSA1_5).
	Alg josejwe.KeyAlgorithm
	// Enc is the content-encryption algorithm, e.g. A128CBC-HS256, A256GCM.
	Enc josejwe.ContentEncryption
	// ClientSecret is required for symmetric KW/DIR/PBES2 algs.
	ClientSecret string
	// RecipientKey is required for asymmetric algs: an *rsa.PublicKey,
	// *ecdsa.PublicKey, or ed25519/X25519 public key selected from the
	// client's jwks/jwks_uri/pubkey by its configured alg_kid.
	RecipientKey any
	// ContentType is carried as the JWE `cty` header; "JWT" for nested JWTs
	// (every token type except refresh tokens and authorization codes,
	// which are opaque strings and never reach this path).
	ContentType string
	// Type is carried as the outer JWE `typ` header, e.g. "at+jwt",
	// "token-introspection+jwt", "token-userinfo+jwt".
	Type string
}

// EncryptPayload wraps payload (typically a signed JWT) in a JWE per
// params, returning the compact serialization.
func EncryptPayload(payload []byte, params EncryptionParams) (string, error) {
	key, err := recipientKey(params)
	if err != nil {
		return "", fmt.Errorf("crypto: resolving encryption recipient: %w", err)
	}

	opts := &josejwe.EncrypterOptions{}
	if params.ContentType != "" {
		opts = opts.WithContentType(josejwe.ContentType(params.ContentType))
	}
	if params.Type != "" {
		opts = opts.WithType(josejwe.ContentType(params.Type))
	}

	enc, err := josejwe.NewEncrypter(params.Enc, josejwe.Recipient{Algorithm: params.Alg, Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("crypto: building encrypter: %w", err)
	}

	obj, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("crypto: encrypting payload: %w", err)
	}
	serialized, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("crypto: serializing JWE: %w", err)
	}
	return serialized, nil
}

func recipientKey(params EncryptionParams) (any, error) {
	switch params.Alg {
	case josejwe.A128KW, josejwe.A192KW, josejwe.A256KW,
		josejwe.A128GCMKW, josejwe.A192GCMKW, josejwe.A256GCMKW:
		return symmetricKeyFromSecret(params.ClientSecret, kwKeyBits(params.Alg))
	case josejwe.DIRECT:
		return symmetricKeyFromSecretSHA512(params.ClientSecret, contentKeyBits(params.Enc))
	case josejwe.PBES2_HS256_A128KW, josejwe.PBES2_HS384_A192KW, josejwe.PBES2_HS512_A256KW:
		if params.ClientSecret == "" {
			return nil, fmt.Errorf("client_secret is required for PBES2 encryption")
		}
		return []byte(params.ClientSecret), nil
	case josejwe.ECDH_ES, josejwe.ECDH_ES_A128KW, josejwe.ECDH_ES_A192KW, josejwe.ECDH_ES_A256KW,
		josejwe.RSA_OAEP, josejwe.RSA_OAEP_256, josejwe.RSA1_5:
		if params.RecipientKey == nil {
			return nil, fmt.Errorf("no recipient public key configured for alg %s", params.Alg)
		}
		return params.RecipientKey, nil
	default:
		return nil, fmt.Errorf("unsupported encryption alg %s", params.Alg)
	}
}

func kwKeyBits(alg josejwe.KeyAlgorithm) int {
	switch alg {
	case josejwe.A128KW, josejwe.A128GCMKW:
		return 128
	case josejwe.A192KW, josejwe.A192GCMKW:
		return 192
	default:
		return 256
	}
}

func contentKeyBits(enc josejwe.ContentEncryption) int {
	switch enc {
	case josejwe.A128CBC_HS256:
		return 256
	case josejwe.A192CBC_HS384:
		return 384
	case josejwe.A256CBC_HS512:
		return 512
	case josejwe.A128GCM:
		return 128
	case josejwe.A192GCM:
		return 192
	default:
		return 256
	}
}

// symmetricKeyFromSecret derives a KW key as SHA-256(client_secret)
// truncated to the required size.
func symmetricKeyFromSecret(secret string, bits int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("client_secret is required for symmetric key-wrap encryption")
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:bits/8], nil
}

// symmetricKeyFromSecretSHA512 derives the "dir" content-encryption key as
// SHA-512(client_secret) truncated to the content alg's key size.
func symmetricKeyFromSecretSHA512(secret string, bits int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("client_secret is required for direct encryption")
	}
	sum := sha512.Sum512([]byte(secret))
	if bits/8 > len(sum) {
		return nil, fmt.Errorf("requested key size %d exceeds SHA-512 output", bits)
	}
	return sum[:bits/8], nil
}
