// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token implements the token factory: minting authorization codes,
// refresh tokens, access tokens, ID tokens, and jtis in the wire shapes the
// protocol requires. Opaque strings use crypto/rand the way fosite's
// compose.NewOAuth2HMACStrategy generates its entropy; signed JWTs are
// built directly over go-jose since the header/claim shapes (at+jwt, cnf,
// authorization_details) are specific to this protocol surface rather than fosite's default JWT strategy.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
)

const (
	// AuthorizationCodeLen is the length in URL-safe characters of a minted
	// authorization code.
	AuthorizationCodeLen = 32
	// RefreshTokenLen is the length in URL-safe characters of a minted
	// refresh token.
	RefreshTokenLen = 128
	// JTILen is the length in URL-safe characters of a minted jti.
	JTILen = 32
)

// randomURLSafe returns n URL-safe base64 characters of cryptographic
// randomness (RawURLEncoding has no padding, so the byte count is rounded
// up and the result trimmed to exactly n characters).
func randomURLSafe(n int) (string, error) {
	byteLen := (n*6 + 7) / 8
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generating randomness: %w", err)
	}
	enc := base64.RawURLEncoding.EncodeToString(buf)
	if len(enc) < n {
		return "", fmt.Errorf("token: short random encoding")
	}
	return enc[:n], nil
}

// NewAuthorizationCode mints a 32-char URL-safe authorization code.
func NewAuthorizationCode() (string, error) { return randomURLSafe(AuthorizationCodeLen) }

// NewRefreshToken mints a 128-char URL-safe refresh token.
func NewRefreshToken() (string, error) { return randomURLSafe(RefreshTokenLen) }

// NewJTI mints a 32-char URL-safe jti, unique within the issuing plugin's
// lifetime by virtue of its entropy.
func NewJTI() (string, error) { return randomURLSafe(JTILen) }

// HashSecret produces the salted-hash-free digest used purely for
// database-hash-indexing (distinct from the host's GenerateHash, which adds
// a salt for at-rest secret storage). Token-store hash columns use this
// digest so equality lookups are index-friendly; no salted hash is applied
// to those columns.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Confirmation carries the optional `cnf` claim (DPoP jkt and/or mTLS
// x5t#S256) an access/refresh token may be bound to.
type Confirmation struct {
	JKT     string
	X5TS256 string
}

func (c Confirmation) toClaim() map[string]string {
	if c.JKT == "" && c.X5TS256 == "" {
		return nil
	}
	m := map[string]string{}
	if c.JKT != "" {
		m["jkt"] = c.JKT
	}
	if c.X5TS256 != "" {
		m["x5t#S256"] = c.X5TS256
	}
	return m
}

// AccessTokenParams assembles a user or client-credentials access-token
// JWT.
type AccessTokenParams struct {
	Issuer                string
	Audience              []string // resource URIs, or the space-joined scope list as a single entry
	Subject               string   // empty for client-credentials tokens
	ClientID              string
	Scope                 []string
	Lifetime              time.Duration
	Confirmation          Confirmation
	AuthorizationDetails  []map[string]any
	AdditionalParams      map[string]any // copied from the user record per client config
	IsClientCredentials   bool
}

// IDTokenParams assembles an ID token JWT.
type IDTokenParams struct {
	Issuer               string
	Audience             string // client_id
	Claims               map[string]any
	AuthTime             time.Time
	Nonce                string
	AMR                  []string
	ACR                  string
	Lifetime             time.Duration
	AccessTokenForHash   string // at_hash source, empty if not applicable
	CodeForHash          string // c_hash source, empty if not applicable
	HashBits             int    // signing key hash size: 256, 384, or 512
}

// Factory mints signed JWTs using a crypto.Provider, and opaque tokens
// independent of it.
type Factory struct {
	keys oidccrypto.Provider
}

// New builds a Factory bound to a key provider.
func New(keys oidccrypto.Provider) *Factory {
	return &Factory{keys: keys}
}

// MintAccessToken signs and returns an access-token JWT plus its jti.
func (f *Factory) MintAccessToken(signKeyID string, p AccessTokenParams) (string, string, error) {
	jti, err := NewJTI()
	if err != nil {
		return "", "", err
	}
	now := time.Now()
	claims := map[string]any{
		"iss":       p.Issuer,
		"aud":       audienceClaim(p.Audience),
		"client_id": p.ClientID,
		"jti":       jti,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       now.Add(p.Lifetime).Unix(),
		"scope":     joinScope(p.Scope),
	}
	if p.IsClientCredentials {
		claims["type"] = "client_token"
	} else {
		claims["type"] = "access_token"
		claims["sub"] = p.Subject
	}
	if cnf := p.Confirmation.toClaim(); cnf != nil {
		claims["cnf"] = cnf
	}
	if len(p.AuthorizationDetails) > 0 {
		claims["authorization_details"] = p.AuthorizationDetails
	}
	for k, v := range p.AdditionalParams {
		claims[k] = v
	}

	signed, err := f.sign(signKeyID, "at+jwt", claims)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

func audienceClaim(aud []string) any {
	if len(aud) == 1 {
		return aud[0]
	}
	return aud
}

func joinScope(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// MintIDToken signs and returns an ID-token JWT.
func (f *Factory) MintIDToken(signKeyID string, p IDTokenParams) (string, error) {
	now := time.Now()
	claims := map[string]any{}
	for k, v := range p.Claims {
		claims[k] = v
	}
	claims["iss"] = p.Issuer
	claims["aud"] = p.Audience
	claims["azp"] = p.Audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(p.Lifetime).Unix()
	if !p.AuthTime.IsZero() {
		claims["auth_time"] = p.AuthTime.Unix()
	}
	if p.Nonce != "" {
		claims["nonce"] = p.Nonce
	}
	if len(p.AMR) > 0 {
		claims["amr"] = p.AMR
	}
	if p.ACR != "" {
		claims["acr"] = p.ACR
	}
	if p.AccessTokenForHash != "" {
		h, err := HalfHash(p.AccessTokenForHash, p.HashBits)
		if err != nil {
			return "", err
		}
		claims["at_hash"] = h
	}
	if p.CodeForHash != "" {
		h, err := HalfHash(p.CodeForHash, p.HashBits)
		if err != nil {
			return "", err
		}
		claims["c_hash"] = h
	}

	return f.sign(signKeyID, "", claims)
}

// SignClaims signs an arbitrary claim set with the given typ header, used
// for signed introspection ("token-introspection+jwt") and userinfo
// ("token-userinfo+jwt") responses. An empty kid selects the default key.
func (f *Factory) SignClaims(kid, typ string, claims map[string]any) (string, error) {
	return f.sign(kid, typ, claims)
}

// HalfHash computes the `at_hash`/`c_hash` value for value: hash it with
// SHA-{256,384,512} matching bits (the signing key's hash size), take the
// left half of the digest, and base64url-encode it.
func HalfHash(value string, bits int) (string, error) {
	var sum []byte
	switch bits {
	case 384:
		s := sha512.Sum384([]byte(value))
		sum = s[:]
	case 512:
		s := sha512.Sum512([]byte(value))
		sum = s[:]
	default:
		s := sha256.Sum256([]byte(value))
		sum = s[:]
	}
	half := sum[:len(sum)/2]
	return base64.RawURLEncoding.EncodeToString(half), nil
}

// HashBitsForAlgorithm maps a JWS alg to the hash size used for at_hash/
// c_hash and thumbprint truncation.
func HashBitsForAlgorithm(alg string) int {
	switch alg {
	case "RS384", "ES384", "PS384":
		return 384
	case "RS512", "ES512", "PS512", "EdDSA":
		return 512
	default:
		return 256
	}
}

func (f *Factory) sign(kid, typ string, claims map[string]any) (string, error) {
	var key *oidccrypto.SigningKeyData
	var err error
	ctx := context.Background()
	if kid != "" {
		key, err = f.keys.KeyByID(ctx, kid)
	} else {
		key, err = f.keys.SigningKey(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("token: selecting signing key: %w", err)
	}

	signerOpts := &gojose.SignerOptions{}
	signerOpts.WithHeader("kid", key.KeyID)
	if typ != "" {
		signerOpts.WithType(gojose.ContentType(typ))
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{
		Algorithm: gojose.SignatureAlgorithm(key.Algorithm),
		Key:       key.Key,
	}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("token: building signer: %w", err)
	}

	builder := josejwt.Signed(signer)
	builder = builder.Claims(claims)
	signed, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("token: signing: %w", err)
	}
	return signed, nil
}
