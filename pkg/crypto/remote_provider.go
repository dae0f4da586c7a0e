// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	josejwk "github.com/go-jose/go-jose/v4"
)

// remoteProvider implements mode (c): the plugin never holds private key
// material, only a published JWKS for a remote signer. SigningKey/KeyByID
// always fail; JWKS either passes through a pre-fetched document or fetches
// one from JWKSPublicURI on first use and caches it.
type remoteProvider struct {
	uri string

	mu     sync.RWMutex
	cached *josejwk.JSONWebKeySet
}

func newRemoteProvider(cfg Config) (Provider, error) {
	if cfg.JWKSPublic != nil {
		return &remoteProvider{cached: cfg.JWKSPublic}, nil
	}
	if cfg.JWKSPublicURI == "" {
		return nil, fmt.Errorf("crypto: jwks-public-uri is required when jwks-public is absent")
	}
	return &remoteProvider{uri: cfg.JWKSPublicURI}, nil
}

func (p *remoteProvider) SigningKey(context.Context) (*SigningKeyData, error) {
	return nil, fmt.Errorf("crypto: no private signing key available for a remote-signer configuration")
}

func (p *remoteProvider) KeyByID(context.Context, string) (*SigningKeyData, error) {
	return nil, fmt.Errorf("crypto: no private signing key available for a remote-signer configuration")
}

func (p *remoteProvider) PublicKeys(context.Context) ([]*SigningKeyData, error) {
	return nil, fmt.Errorf("crypto: PublicKeys unsupported for a remote-signer configuration; use JWKS")
}

func (p *remoteProvider) JWKS(ctx context.Context) (*josejwk.JSONWebKeySet, error) {
	p.mu.RLock()
	if p.cached != nil {
		defer p.mu.RUnlock()
		return p.cached, nil
	}
	p.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: building jwks-public-uri request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto: fetching jwks-public-uri: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crypto: jwks-public-uri returned status %d", resp.StatusCode)
	}

	var set josejwk.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("crypto: decoding jwks-public-uri response: %w", err)
	}

	p.mu.Lock()
	p.cached = &set
	p.mu.Unlock()
	return &set, nil
}
