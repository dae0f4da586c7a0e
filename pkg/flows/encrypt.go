// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"

	gojose "github.com/go-jose/go-jose/v4"

	oidccrypto "github.com/ssoplugins/oidcauthz/pkg/crypto"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// TokenType names an encryptable outbound token class and doubles as the
// outer JWE typ header value, except for ID tokens, whose JWE typ is "JWT".
type TokenType string

const (
	TokenTypeAccess        TokenType = "at+jwt"
	TokenTypeID            TokenType = "id+jwt"
	TokenTypeUserinfo      TokenType = "token-userinfo+jwt"
	TokenTypeIntrospection TokenType = "token-introspection+jwt"
)

// EncryptionConfig names the client properties the encryption step reads:
// per-type opt-in flags, the alg/enc pair, the key-selecting alg_kid, and
// the key-material sources.
type EncryptionConfig struct {
	// OptInProperties maps a token type to the truthy client property that
	// enables encryption for it.
	OptInProperties map[TokenType]string
	AlgProperty     string
	EncProperty     string
	AlgKidProperty  string

	ClientSecretProperty string
	JWKSProperty         string
	JWKSURIProperty      string
	PubkeyProperty       string
}

// EncryptForClient exposes the encryption step to the HTTP layer for
// responses minted outside the grant engines (userinfo).
func (e *Engine) EncryptForClient(ctx context.Context, client *host.Client, typ TokenType, payload string) (string, error) {
	return e.encryptFor(ctx, client, typ, payload)
}

// encryptFor wraps payload in a JWE when client opts in for typ; otherwise
// it returns payload unchanged. cty is "JWT" for every nested case.
func (e *Engine) encryptFor(ctx context.Context, client *host.Client, typ TokenType, payload string) (string, error) {
	enc := e.cfg.Encryption
	optProp, configured := enc.OptInProperties[typ]
	if !configured || !client.PropertyTruthy(optProp) {
		return payload, nil
	}

	algRaw, _ := client.Property(enc.AlgProperty)
	if algRaw == "" {
		return "", oidcerr.Protocol(oidcerr.CodeInvalidClient, "client opts into encryption but declares no alg")
	}
	encRaw, _ := client.Property(enc.EncProperty)
	if encRaw == "" {
		encRaw = string(gojose.A128CBC_HS256)
	}

	params := oidccrypto.EncryptionParams{
		Alg:         gojose.KeyAlgorithm(algRaw),
		Enc:         gojose.ContentEncryption(encRaw),
		ContentType: "JWT",
		Type:        string(typ),
	}
	if typ == TokenTypeID {
		// Nested ID tokens keep the standard JWT typ on the outer header.
		params.Type = "JWT"
	}

	switch params.Alg {
	case gojose.ECDH_ES, gojose.ECDH_ES_A128KW, gojose.ECDH_ES_A192KW, gojose.ECDH_ES_A256KW,
		gojose.RSA_OAEP, gojose.RSA_OAEP_256, gojose.RSA1_5:
		set, err := oidccrypto.ResolveClientJWKS(ctx, e.hc, oidccrypto.ClientKeySource{
			JWKSJSON:  clientProp(client, enc.JWKSProperty),
			JWKSURI:   clientProp(client, enc.JWKSURIProperty),
			PubkeyPEM: clientProp(client, enc.PubkeyProperty),
		})
		if err != nil {
			return "", oidcerr.CryptoServer(err, "resolving client encryption keys")
		}
		kid, _ := client.Property(enc.AlgKidProperty)
		jwk, err := oidccrypto.SelectClientKey(set, kid)
		if err != nil {
			return "", oidcerr.CryptoServer(err, "selecting client encryption key")
		}
		params.RecipientKey = jwk.Key
	default:
		secret, ok := client.Property(enc.ClientSecretProperty)
		if !ok || secret == "" {
			return "", oidcerr.Protocol(oidcerr.CodeInvalidClient, "client_secret is required for symmetric token encryption")
		}
		params.ClientSecret = secret
	}

	wrapped, err := oidccrypto.EncryptPayload([]byte(payload), params)
	if err != nil {
		return "", oidcerr.CryptoServer(err, "encrypting outbound token")
	}
	return wrapped, nil
}

func clientProp(c *host.Client, name string) string {
	if name == "" {
		return ""
	}
	v, _ := c.Property(name)
	return v
}
