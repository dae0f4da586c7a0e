// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package dpop validates DPoP (RFC 9449) proofs presented on token,
// userinfo, and token-list requests.
package dpop

import (
	"context"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// Store is the narrow persistence contract Validator needs for jti replay
// prevention.
type Store interface {
	InsertDPoPJTI(ctx context.Context, rec *store.DPoPJTI) error
}

// Proof is a successfully validated DPoP proof.
type Proof struct {
	JKT string
	HTM string
	HTU string
	IAT time.Time
}

// Validator checks DPoP proof JWTs.
type Validator struct {
	pluginName string
	maxIATAge  time.Duration
	backing    Store
}

// New builds a Validator. maxIATAge is the configured
// oauth-dpop-iat-duration.
func New(pluginName string, maxIATAge time.Duration, backing Store) *Validator {
	if maxIATAge <= 0 {
		maxIATAge = time.Minute
	}
	return &Validator{pluginName: pluginName, maxIATAge: maxIATAge, backing: backing}
}

// Validate parses and checks a DPoP proof header value against the request
// method and absolute URL (htm/htu), and records its jti to reject replay.
func (v *Validator) Validate(ctx context.Context, clientID, proofJWT, method, url string) (*Proof, error) {
	parsed, err := josejwt.ParseSigned(proofJWT, []gojose.SignatureAlgorithm{
		gojose.ES256, gojose.ES384, gojose.ES512, gojose.RS256, gojose.RS384, gojose.RS512, gojose.PS256, gojose.EdDSA,
	})
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "malformed DPoP proof")
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].ExtraHeaders["typ"] != "dpop+jwt" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP proof must carry typ=dpop+jwt")
	}
	jwk := parsed.Headers[0].JSONWebKey
	if jwk == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP proof missing jwk header")
	}

	var claims struct {
		HTM string `json:"htm"`
		HTU string `json:"htu"`
		IAT int64  `json:"iat"`
		JTI string `json:"jti"`
	}
	if err := parsed.Claims(jwk.Key, &claims); err != nil {
		return nil, oidcerr.CryptoClient(err, "DPoP proof signature verification failed")
	}

	if !strings.EqualFold(claims.HTM, method) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP htm does not match request method")
	}
	if !strings.EqualFold(strings.TrimRight(claims.HTU, "/"), strings.TrimRight(url, "/")) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP htu does not match request URL")
	}
	iat := time.Unix(claims.IAT, 0)
	age := time.Since(iat)
	if age < 0 {
		age = -age
	}
	if age > v.maxIATAge {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP proof iat outside acceptable window")
	}
	if claims.JTI == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "DPoP proof missing jti")
	}

	jkt, err := oidccrypto.JKTFromJWK(jwk)
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "computing DPoP jkt")
	}

	rec := &store.DPoPJTI{
		PluginName: v.pluginName,
		ClientID:   clientID,
		JTIHash:    token.HashSecret(claims.JTI),
		JKT:        jkt,
		HTM:        claims.HTM,
		HTU:        claims.HTU,
		IssuedAt:   iat,
	}
	if err := v.backing.InsertDPoPJTI(ctx, rec); err != nil {
		return nil, oidcerr.Replay("DPoP proof jti already used")
	}

	return &Proof{JKT: jkt, HTM: claims.HTM, HTU: claims.HTU, IAT: iat}, nil
}
