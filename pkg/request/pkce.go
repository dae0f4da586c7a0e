// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package request

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// SHA256Prefix is the literal stored in front of an S256 code challenge.
const SHA256Prefix = "{SHA256}"

// validatePKCEChallenge checks the code_challenge shape: 43..128 URL-safe characters,
// method plain or S256, plain only when allowed by config. The stored form
// of an S256 challenge carries the "{SHA256}" prefix.
func (v *Validator) validatePKCEChallenge(req *AuthorizationRequest) error {
	if req.CodeChallenge == "" {
		if req.CodeChallengeMethod != "" {
			return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "code_challenge_method without code_challenge")
		}
		return nil
	}
	if len(req.CodeChallenge) < 43 || len(req.CodeChallenge) > 128 {
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "code_challenge must be 43..128 characters")
	}
	if !isURLSafe(req.CodeChallenge) {
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "code_challenge contains non-URL-safe characters")
	}
	switch req.CodeChallengeMethod {
	case "", "plain":
		if !v.cfg.AllowPlainPKCE {
			return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "plain code_challenge_method is not allowed")
		}
		req.CodeChallengeMethod = "plain"
	case "S256":
		req.CodeChallenge = SHA256Prefix + req.CodeChallenge
	default:
		return oidcerr.Protocol(oidcerr.CodeInvalidRequest, "unsupported code_challenge_method")
	}
	return nil
}

func isURLSafe(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '~':
		default:
			return false
		}
	}
	return true
}

// VerifyPKCE checks a /token code_verifier against the stored challenge
// : equality for plain, "{SHA256}" || base64url(SHA256(v)) for
// S256. Comparison is constant-time.
func VerifyPKCE(verifier, storedChallenge string) error {
	if storedChallenge == "" {
		if verifier != "" {
			return oidcerr.Protocol(oidcerr.CodeInvalidGrant, "code_verifier presented but no challenge was recorded")
		}
		return nil
	}
	if verifier == "" {
		return oidcerr.Protocol(oidcerr.CodeInvalidGrant, "code_verifier is required")
	}
	if len(verifier) < 43 || len(verifier) > 128 || !isURLSafe(verifier) {
		return oidcerr.Protocol(oidcerr.CodeInvalidGrant, "malformed code_verifier")
	}

	expected := verifier
	if strings.HasPrefix(storedChallenge, SHA256Prefix) {
		sum := sha256.Sum256([]byte(verifier))
		expected = SHA256Prefix + base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(storedChallenge)) != 1 {
		return oidcerr.Protocol(oidcerr.CodeInvalidGrant, "code_verifier does not match challenge")
	}
	return nil
}
