// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeECPEM(t *testing.T, dir, filename string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	path := filepath.Join(dir, filename)
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return filename
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	t.Run("loads signing key and publishes JWKS", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		signingFile := writeECPEM(t, dir, "signing.pem")

		provider, err := NewFileProvider(Config{KeyDir: dir, SigningKeyFile: signingFile})
		require.NoError(t, err)

		key, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, key.KeyID)
		assert.Equal(t, "ES256", key.Algorithm)

		set, err := provider.JWKS(context.Background())
		require.NoError(t, err)
		require.Len(t, set.Keys, 1)
		assert.Equal(t, key.KeyID, set.Keys[0].KeyID)
	})

	t.Run("loads fallback keys and selects default by kid", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		signingFile := writeECPEM(t, dir, "signing.pem")
		fallback := writeECPEM(t, dir, "old.pem")

		provider, err := NewFileProvider(Config{
			KeyDir:           dir,
			SigningKeyFile:   signingFile,
			FallbackKeyFiles: []string{fallback},
		})
		require.NoError(t, err)

		keys, err := provider.PublicKeys(context.Background())
		require.NoError(t, err)
		require.Len(t, keys, 2)

		k, err := provider.KeyByID(context.Background(), keys[1].KeyID)
		require.NoError(t, err)
		assert.Equal(t, keys[1].KeyID, k.KeyID)
	})

	t.Run("fails for missing signing key file", func(t *testing.T) {
		t.Parallel()
		_, err := NewFileProvider(Config{KeyDir: "/nonexistent", SigningKeyFile: "key.pem"})
		require.Error(t, err)
	})
}

func TestGeneratingProvider(t *testing.T) {
	t.Parallel()

	t.Run("generates once and is stable", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("ES256")

		key1, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		key2, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, key1.KeyID, key2.KeyID)
	})

	t.Run("defaults empty algorithm", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("")
		key, err := provider.SigningKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultAlgorithm, key.Algorithm)
	})

	t.Run("rejects unsupported algorithm", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("RS256")
		_, err := provider.SigningKey(context.Background())
		require.Error(t, err)
	})

	t.Run("thread-safe", func(t *testing.T) {
		t.Parallel()
		provider := NewGeneratingProvider("ES256")
		var wg sync.WaitGroup
		ids := make([]string, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				k, err := provider.SigningKey(context.Background())
				require.NoError(t, err)
				ids[idx] = k.KeyID
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("falls back to generating provider with empty config", func(t *testing.T) {
		t.Parallel()
		provider, err := NewProviderFromConfig(Config{})
		require.NoError(t, err)
		_, ok := provider.(*GeneratingProvider)
		assert.True(t, ok)
	})

	t.Run("selects file provider when signing key file is set", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		signingFile := writeECPEM(t, dir, "signing.pem")

		provider, err := NewProviderFromConfig(Config{KeyDir: dir, SigningKeyFile: signingFile})
		require.NoError(t, err)
		_, ok := provider.(*FileProvider)
		assert.True(t, ok)
	})
}
