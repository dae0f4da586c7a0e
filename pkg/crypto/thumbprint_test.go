// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	josejwk "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbprintForKey(t *testing.T) {
	t.Parallel()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	thumb1, err := ThumbprintForKey(&key.PublicKey)
	require.NoError(t, err)
	assert.NotEmpty(t, thumb1)

	thumb2, err := ThumbprintForKey(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, thumb1, thumb2, "thumbprint must be deterministic for the same key")
}

func TestJKTFromJWK(t *testing.T) {
	t.Parallel()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := &josejwk.JSONWebKey{Key: &key.PublicKey}
	jkt, err := JKTFromJWK(jwk)
	require.NoError(t, err)
	assert.NotEmpty(t, jkt)

	direct, err := ThumbprintForKey(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, direct, jkt)
}
