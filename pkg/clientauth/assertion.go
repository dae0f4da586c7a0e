// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package clientauth

import (
	"context"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

var hmacAlgs = []gojose.SignatureAlgorithm{gojose.HS256, gojose.HS384, gojose.HS512}

var asymAlgs = []gojose.SignatureAlgorithm{
	gojose.RS256, gojose.RS384, gojose.RS512,
	gojose.ES256, gojose.ES384, gojose.ES512,
	gojose.PS256, gojose.PS384, gojose.PS512,
	gojose.EdDSA,
}

// authenticateAssertion handles client_secret_jwt and private_key_jwt: the
// alg family of the assertion selects the method, then iss==sub==client_id,
// aud==this endpoint, exp-now <= AssertionMaxAge, and an unseen jti are all
// required.
func (a *Authenticator) authenticateAssertion(ctx context.Context, assertion string) (*Result, error) {
	parsed, err := josejwt.ParseSigned(assertion, append(append([]gojose.SignatureAlgorithm{}, hmacAlgs...), asymAlgs...))
	if err != nil {
		return nil, oidcerr.CryptoClient(err, "malformed client_assertion")
	}
	if len(parsed.Headers) != 1 {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion must carry exactly one signature")
	}
	alg := gojose.SignatureAlgorithm(parsed.Headers[0].Algorithm)
	kid := parsed.Headers[0].KeyID

	// The issuer names the client; read it unverified first, verify after
	// key resolution.
	var unverified josejwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&unverified); err != nil {
		return nil, oidcerr.CryptoClient(err, "unreadable client_assertion claims")
	}
	clientID := unverified.Issuer
	if clientID == "" || unverified.Subject != clientID {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion iss and sub must both equal client_id")
	}
	client, err := a.lookupClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	var claims josejwt.Claims
	method := MethodPrivateKeyJWT
	if isHMAC(alg) {
		method = MethodSecretJWT
		secret, ok := client.Property(a.cfg.ClientSecretProperty)
		if !ok || secret == "" {
			return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "client has no shared secret for client_secret_jwt")
		}
		if err := parsed.Claims([]byte(secret), &claims); err != nil {
			return nil, oidcerr.CryptoClient(err, "client_assertion HMAC verification failed")
		}
	} else {
		set, err := oidccrypto.ResolveClientJWKS(ctx, a.hc, oidccrypto.ClientKeySource{
			JWKSJSON:  propOr(client, a.cfg.JWKSProperty),
			JWKSURI:   propOr(client, a.cfg.JWKSURIProperty),
			PubkeyPEM: propOr(client, a.cfg.PubkeyProperty),
		})
		if err != nil {
			return nil, oidcerr.CryptoClient(err, "resolving client keys for private_key_jwt")
		}
		jwk, err := oidccrypto.SelectClientKey(set, kid)
		if err != nil {
			return nil, oidcerr.CryptoClient(err, "selecting client key for private_key_jwt")
		}
		if err := parsed.Claims(jwk.Key, &claims); err != nil {
			return nil, oidcerr.CryptoClient(err, "client_assertion signature verification failed")
		}
	}
	if !methodAllowed(client, method) {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidClient, "assertion method not allowed for client")
	}

	if err := a.checkAssertionClaims(ctx, clientID, claims); err != nil {
		return nil, err
	}
	return &Result{Client: client, Method: method}, nil
}

func isHMAC(alg gojose.SignatureAlgorithm) bool {
	for _, h := range hmacAlgs {
		if alg == h {
			return true
		}
	}
	return false
}

func propOr(c interface{ Property(string) (string, bool) }, name string) string {
	if name == "" {
		return ""
	}
	v, _ := c.Property(name)
	return v
}

func (a *Authenticator) checkAssertionClaims(ctx context.Context, clientID string, claims josejwt.Claims) error {
	if !audienceContains(claims.Audience, a.cfg.EndpointURL) {
		return oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion aud does not name this endpoint")
	}
	if claims.Expiry == nil {
		return oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion missing exp")
	}
	now := time.Now()
	exp := claims.Expiry.Time()
	if exp.Before(now) {
		return oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion expired")
	}
	maxAge := a.cfg.AssertionMaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if exp.Sub(now) > maxAge {
		return oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion exp too far in the future")
	}
	if claims.ID == "" {
		return oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_assertion missing jti")
	}
	rec := &store.ClientAssertionJTI{
		PluginName: a.cfg.PluginName,
		ClientID:   clientID,
		JTIHash:    token.HashSecret(claims.ID),
	}
	if err := a.backing.InsertClientAssertionJTI(ctx, rec); err != nil {
		a.metrics.IncrementCounter("oidc_client_assertion_replay_total", 1, map[string]string{"plugin": a.cfg.PluginName})
		return oidcerr.Replay("client_assertion jti already used")
	}
	return nil
}

func audienceContains(aud josejwt.Audience, endpoint string) bool {
	for _, a := range aud {
		if a == endpoint {
			return true
		}
	}
	return false
}
