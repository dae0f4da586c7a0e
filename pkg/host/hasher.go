// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher is the reference Hasher implementation: salted bcrypt with
// constant-time comparison. Hosts may substitute their own (e.g. one shared
// with the rest of the SSO server's secret storage); this one exists so the
// plugin is usable without extra wiring and so tests have a real hasher.
type BcryptHasher struct {
	// Cost overrides bcrypt.DefaultCost when positive.
	Cost int
}

// GenerateHash returns a salted bcrypt hash of secret.
func (h BcryptHasher) GenerateHash(secret string) (string, error) {
	cost := h.Cost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	sum, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("host: hashing secret: %w", err)
	}
	return string(sum), nil
}

// Verify reports whether secret matches hash.
func (h BcryptHasher) Verify(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
