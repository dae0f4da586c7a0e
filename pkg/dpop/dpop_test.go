// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package dpop

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

func signProof(t *testing.T, key *ecdsa.PrivateKey, htm, htu, jti string, iat time.Time) string {
	t.Helper()
	opts := (&gojose.SignerOptions{EmbedJWK: true}).WithType("dpop+jwt")
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.ES256, Key: key}, opts)
	require.NoError(t, err)
	raw, err := josejwt.Signed(signer).Claims(map[string]any{
		"htm": htm,
		"htu": htu,
		"jti": jti,
		"iat": iat.Unix(),
	}).Serialize()
	require.NoError(t, err)
	return raw
}

func TestValidate_HappyPathAndJKT(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v := New("oidc", time.Minute, mem)
	proofJWT := signProof(t, key, "POST", "https://sso.example.com/oidc/token", "jti-1", time.Now())

	proof, err := v.Validate(ctx, "c1", proofJWT, "POST", "https://sso.example.com/oidc/token")
	require.NoError(t, err)

	wantJKT, err := oidccrypto.ThumbprintForKey(key.Public())
	require.NoError(t, err)
	assert.Equal(t, wantJKT, proof.JKT)
	assert.Equal(t, "POST", proof.HTM)
}

func TestValidate_ReplayRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	v := New("oidc", time.Minute, mem)
	proofJWT := signProof(t, key, "POST", "https://sso.example.com/oidc/token", "jti-replay", time.Now())

	_, err := v.Validate(ctx, "c1", proofJWT, "POST", "https://sso.example.com/oidc/token")
	require.NoError(t, err)
	_, err = v.Validate(ctx, "c1", proofJWT, "POST", "https://sso.example.com/oidc/token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}

func TestValidate_Mismatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	tests := []struct {
		name   string
		method string
		url    string
		iat    time.Time
	}{
		{name: "wrong method", method: "GET", url: "https://sso.example.com/oidc/token", iat: time.Now()},
		{name: "wrong url", method: "POST", url: "https://other.example.com/token", iat: time.Now()},
		{name: "stale iat", method: "POST", url: "https://sso.example.com/oidc/token", iat: time.Now().Add(-time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mem := store.NewMemoryStore()
			defer mem.Close()
			v := New("oidc", time.Minute, mem)
			proofJWT := signProof(t, key, "POST", "https://sso.example.com/oidc/token", "jti-"+tt.name, tt.iat)
			_, err := v.Validate(ctx, "c1", proofJWT, tt.method, tt.url)
			assert.Error(t, err)
		})
	}
}

func TestValidate_RejectsWrongTyp(t *testing.T) {
	t.Parallel()
	mem := store.NewMemoryStore()
	defer mem.Close()

	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	opts := (&gojose.SignerOptions{EmbedJWK: true}).WithType("JWT")
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.ES256, Key: key}, opts)
	require.NoError(t, err)
	raw, err := josejwt.Signed(signer).Claims(map[string]any{"htm": "POST"}).Serialize()
	require.NoError(t, err)

	v := New("oidc", time.Minute, mem)
	_, err = v.Validate(context.Background(), "c1", raw, "POST", "https://sso.example.com/oidc/token")
	assert.Error(t, err)
}
