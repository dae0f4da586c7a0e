// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 7636 appendix B vectors.
const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestVerifyPKCE_S256(t *testing.T) {
	t.Parallel()

	stored := SHA256Prefix + rfcChallenge
	require.NoError(t, VerifyPKCE(rfcVerifier, stored))

	err := VerifyPKCE(strings.Repeat("x", 43), stored)
	assert.Error(t, err)
}

func TestVerifyPKCE_Plain(t *testing.T) {
	t.Parallel()

	verifier := strings.Repeat("a", 50)
	require.NoError(t, VerifyPKCE(verifier, verifier))
	assert.Error(t, VerifyPKCE(strings.Repeat("b", 50), verifier))
}

func TestVerifyPKCE_MissingVerifier(t *testing.T) {
	t.Parallel()

	assert.Error(t, VerifyPKCE("", SHA256Prefix+rfcChallenge))
	assert.NoError(t, VerifyPKCE("", ""))
	assert.Error(t, VerifyPKCE(strings.Repeat("a", 50), ""))
}

func TestVerifyPKCE_VerifierShape(t *testing.T) {
	t.Parallel()

	// Too short, too long, bad characters.
	assert.Error(t, VerifyPKCE(strings.Repeat("a", 42), strings.Repeat("a", 42)))
	assert.Error(t, VerifyPKCE(strings.Repeat("a", 129), strings.Repeat("a", 129)))
	assert.Error(t, VerifyPKCE(strings.Repeat("a", 42)+"!", strings.Repeat("a", 42)+"!"))
}

func TestValidatePKCEChallenge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		challenge string
		method    string
		plainOK   bool
		wantErr   bool
		want      string
	}{
		{name: "S256 gets prefix", challenge: rfcChallenge, method: "S256", want: SHA256Prefix + rfcChallenge},
		{name: "plain allowed", challenge: strings.Repeat("a", 43), method: "plain", plainOK: true, want: strings.Repeat("a", 43)},
		{name: "plain rejected", challenge: strings.Repeat("a", 43), method: "plain", wantErr: true},
		{name: "default method is plain", challenge: strings.Repeat("a", 43), plainOK: true, want: strings.Repeat("a", 43)},
		{name: "too short", challenge: strings.Repeat("a", 42), method: "S256", wantErr: true},
		{name: "too long", challenge: strings.Repeat("a", 129), method: "S256", wantErr: true},
		{name: "bad chars", challenge: strings.Repeat("a", 42) + "%", method: "S256", wantErr: true},
		{name: "unknown method", challenge: strings.Repeat("a", 43), method: "S512", wantErr: true},
		{name: "method without challenge", method: "S256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := &Validator{cfg: Config{AllowPlainPKCE: tt.plainOK}}
			req := &AuthorizationRequest{CodeChallenge: tt.challenge, CodeChallengeMethod: tt.method}
			err := v.validatePKCEChallenge(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.CodeChallenge)
		})
	}
}

func TestVerifyPKCE_MatchesManualDigest(t *testing.T) {
	t.Parallel()

	verifier := strings.Repeat("m", 64)
	sum := sha256.Sum256([]byte(verifier))
	stored := SHA256Prefix + base64.RawURLEncoding.EncodeToString(sum[:])
	assert.NoError(t, VerifyPKCE(verifier, stored))
}
