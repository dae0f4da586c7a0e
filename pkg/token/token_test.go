// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
	gojose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
)

func TestRandomTokenShapes(t *testing.T) {
	t.Parallel()

	code, err := NewAuthorizationCode()
	require.NoError(t, err)
	assert.Len(t, code, AuthorizationCodeLen)

	refresh, err := NewRefreshToken()
	require.NoError(t, err)
	assert.Len(t, refresh, RefreshTokenLen)

	jti, err := NewJTI()
	require.NoError(t, err)
	assert.Len(t, jti, JTILen)

	for _, s := range []string{code, refresh, jti} {
		for _, c := range s {
			urlSafe := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
			require.True(t, urlSafe, "character %q is not URL-safe", c)
		}
	}
}

func TestHalfHash(t *testing.T) {
	t.Parallel()

	// Manual cross-check at 256 bits: left half of SHA-256.
	value := "some-access-token"
	sum := sha256.Sum256([]byte(value))
	want := base64.RawURLEncoding.EncodeToString(sum[:16])

	got, err := HalfHash(value, 256)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got384, err := HalfHash(value, 384)
	require.NoError(t, err)
	assert.Len(t, mustDecode(t, got384), 24)

	got512, err := HalfHash(value, 512)
	require.NoError(t, err)
	assert.Len(t, mustDecode(t, got512), 32)
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	return raw
}

func TestHashBitsForAlgorithm(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 256, HashBitsForAlgorithm("ES256"))
	assert.Equal(t, 256, HashBitsForAlgorithm("RS256"))
	assert.Equal(t, 384, HashBitsForAlgorithm("ES384"))
	assert.Equal(t, 512, HashBitsForAlgorithm("PS512"))
	assert.Equal(t, 512, HashBitsForAlgorithm("EdDSA"))
}

func TestMintAccessToken_VerifiesAndCarriesClaims(t *testing.T) {
	t.Parallel()

	keys := oidccrypto.NewGeneratingProvider("ES256")
	f := New(keys)

	signed, jti, err := f.MintAccessToken("", AccessTokenParams{
		Issuer:   "https://sso.example.com",
		Audience: []string{"https://api.example.com"},
		Subject:  "subj-1",
		ClientID: "c1",
		Scope:    []string{"openid", "profile"},
		Lifetime: time.Hour,
		Confirmation: Confirmation{JKT: "jkt-1"},
	})
	require.NoError(t, err)
	assert.Len(t, jti, JTILen)

	set, err := keys.JWKS(context.Background())
	require.NoError(t, err)

	parsed, err := josejwt.ParseSigned(signed, []gojose.SignatureAlgorithm{gojose.ES256})
	require.NoError(t, err)
	assert.EqualValues(t, "at+jwt", parsed.Headers[0].ExtraHeaders["typ"])

	var claims map[string]any
	require.NoError(t, parsed.Claims(set.Keys[0].Key, &claims))
	assert.Equal(t, "https://sso.example.com", claims["iss"])
	assert.Equal(t, "subj-1", claims["sub"])
	assert.Equal(t, "access_token", claims["type"])
	assert.Equal(t, "openid profile", claims["scope"])
	cnf := claims["cnf"].(map[string]any)
	assert.Equal(t, "jkt-1", cnf["jkt"])
}

func TestMintAccessToken_ClientCredentialsShape(t *testing.T) {
	t.Parallel()

	keys := oidccrypto.NewGeneratingProvider("ES256")
	f := New(keys)

	signed, _, err := f.MintAccessToken("", AccessTokenParams{
		Issuer:              "https://sso.example.com",
		Audience:            []string{"svc"},
		ClientID:            "c1",
		Scope:               []string{"svc"},
		Lifetime:            time.Hour,
		IsClientCredentials: true,
	})
	require.NoError(t, err)

	set, _ := keys.JWKS(context.Background())
	parsed, err := josejwt.ParseSigned(signed, []gojose.SignatureAlgorithm{gojose.ES256})
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, parsed.Claims(set.Keys[0].Key, &claims))
	assert.Equal(t, "client_token", claims["type"])
	_, hasSub := claims["sub"]
	assert.False(t, hasSub, "client tokens carry no sub")
}

func TestMintIDToken_Hashes(t *testing.T) {
	t.Parallel()

	keys := oidccrypto.NewGeneratingProvider("ES256")
	f := New(keys)

	access := "access.jwt.value"
	code := "code-value"
	signed, err := f.MintIDToken("", IDTokenParams{
		Issuer:             "https://sso.example.com",
		Audience:           "c1",
		Claims:             map[string]any{"sub": "subj-1"},
		AuthTime:           time.Now(),
		Nonce:              "n",
		AMR:                []string{"password"},
		Lifetime:           time.Hour,
		AccessTokenForHash: access,
		CodeForHash:        code,
		HashBits:           256,
	})
	require.NoError(t, err)

	set, _ := keys.JWKS(context.Background())
	parsed, err := josejwt.ParseSigned(signed, []gojose.SignatureAlgorithm{gojose.ES256})
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, parsed.Claims(set.Keys[0].Key, &claims))

	wantAt, _ := HalfHash(access, 256)
	wantC, _ := HalfHash(code, 256)
	assert.Equal(t, wantAt, claims["at_hash"])
	assert.Equal(t, wantC, claims["c_hash"])
	assert.Equal(t, "c1", claims["aud"])
	assert.Equal(t, "c1", claims["azp"])
	assert.Equal(t, "n", claims["nonce"])
}
