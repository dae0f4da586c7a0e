// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/claims"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// mintInput carries everything the shared user-token minting path needs.
type mintInput struct {
	client        *host.Client
	username      string
	scopes        []string
	resource      string
	authDetails   string // raw JSON
	claimsRequest *claims.ClaimsRequest
	amr           []string
	cnf           token.Confirmation
	authorizeType string // audit record authorization-type
	parentCodeID  string
	nonce         string
	authTime      time.Time
	includeID     bool
	includeRefresh bool
	// reuseJTI, when set, threads the rotated-from token's jti so siblings
	// stay linked for the reuse-detection cascade.
	reuseJTI string
	// parentRefreshID links the access-token audit record when no new
	// refresh token is minted (non-rotating refresh grant).
	parentRefreshID string
	userAgent       string
}

// mintUserTokens mints the access (+refresh) (+ID) bundle for a user grant
// and records the aggregate.
func (e *Engine) mintUserTokens(ctx context.Context, in mintInput) (*TokenResponse, error) {
	user, err := e.h.GetUser(ctx, in.username)
	if err != nil {
		return nil, oidcerr.Persistence(err, "user directory lookup failed")
	}
	if user == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "user no longer exists")
	}
	sub, err := e.subjects.Resolve(ctx, in.username, in.client.ID, sectorSource{e.h})
	if err != nil {
		return nil, oidcerr.Persistence(err, "subject resolution failed")
	}

	kid := e.signKid(in.client)
	accessJWT, jti, err := e.tokens.MintAccessToken(kid, token.AccessTokenParams{
		Issuer:               e.cfg.Issuer,
		Audience:             audienceFor(in.resource, in.scopes),
		Subject:              sub,
		ClientID:             in.client.ID,
		Scope:                in.scopes,
		Lifetime:             e.cfg.AccessTokenLifespan,
		Confirmation:         in.cnf,
		AuthorizationDetails: rawDetails(in.authDetails),
		AdditionalParams:     e.additionalParams(user),
	})
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "minting access token")
	}

	resp := &TokenResponse{
		TokenType: "bearer",
		ExpiresIn: int64(e.cfg.AccessTokenLifespan.Seconds()),
		Scope:     joinScopes(in.scopes),
	}
	if in.cnf.JKT != "" {
		resp.TokenType = "DPoP"
	}

	refreshID := in.parentRefreshID
	if in.includeRefresh {
		refresh, rec, err := e.mintRefresh(ctx, in)
		if err != nil {
			return nil, err
		}
		refreshID = rec.ID
		resp.RefreshToken = refresh
	}

	accessRec := &store.AccessTokenRecord{
		ID:              uuid.NewString(),
		PluginName:      e.cfg.PluginName,
		AuthorizeType:   in.authorizeType,
		ParentRefreshID: refreshID,
		Username:        in.username,
		ClientID:        in.client.ID,
		Scopes:          in.scopes,
		Resource:        in.resource,
		Hash:            token.HashSecret(accessJWT),
		JTI:             jti,
		AuthDetails:     in.authDetails,
		IssuedAt:        time.Now(),
		ExpiresAt:       time.Now().Add(e.cfg.AccessTokenLifespan),
		Enabled:         true,
	}
	if err := e.stor.InsertAccessToken(ctx, accessRec); err != nil {
		return nil, oidcerr.Persistence(err, "recording access token")
	}

	if in.includeID {
		idJWT, err := e.mintIDToken(ctx, in, user, sub, accessJWT, "")
		if err != nil {
			return nil, err
		}
		resp.IDToken = idJWT
	}

	resp.AccessToken, err = e.encryptFor(ctx, in.client, TokenTypeAccess, accessJWT)
	if err != nil {
		return nil, err
	}
	if resp.IDToken != "" {
		resp.IDToken, err = e.encryptFor(ctx, in.client, TokenTypeID, resp.IDToken)
		if err != nil {
			return nil, err
		}
	}

	log.Infow("tokens issued",
		"plugin", e.cfg.PluginName, "client", in.client.ID, "grant", in.authorizeType, "scopes", resp.Scope)
	e.h.IncrementCounter("oidc_tokens_issued_total", 1,
		map[string]string{"plugin": e.cfg.PluginName, "grant": in.authorizeType})
	return resp, nil
}

func (e *Engine) mintRefresh(ctx context.Context, in mintInput) (string, *store.RefreshToken, error) {
	refresh, err := token.NewRefreshToken()
	if err != nil {
		return "", nil, oidcerr.CryptoServer(err, "minting refresh token")
	}
	duration := e.refreshDuration(in.scopes)
	jti := in.reuseJTI
	if jti == "" && e.oneUse(in.client) {
		jti, err = token.NewJTI()
		if err != nil {
			return "", nil, oidcerr.CryptoServer(err, "minting refresh jti")
		}
	}
	var claimsJSON string
	if in.claimsRequest != nil {
		raw, err := json.Marshal(in.claimsRequest)
		if err == nil {
			claimsJSON = string(raw)
		}
	}
	now := time.Now()
	rec := &store.RefreshToken{
		ID:            uuid.NewString(),
		PluginName:    e.cfg.PluginName,
		ParentCodeID:  in.parentCodeID,
		Username:      in.username,
		ClientID:      in.client.ID,
		TokenHash:     token.HashSecret(refresh),
		JTI:           jti,
		Scopes:        in.scopes,
		Resource:      in.resource,
		ClaimsRequest: claimsJSON,
		AuthDetails:   in.authDetails,
		JKT:           in.cnf.JKT,
		X5TS256:       in.cnf.X5TS256,
		Rolling:       e.refreshRolling(in.scopes),
		Duration:      duration,
		IssuedAt:      now,
		LastSeenAt:    now,
		ExpiresAt:     now.Add(duration),
		Enabled:       true,
	}
	if err := e.stor.InsertRefreshToken(ctx, rec); err != nil {
		return "", nil, oidcerr.Persistence(err, "recording refresh token")
	}
	return refresh, rec, nil
}

// mintIDToken assembles claims from the id_token container of the claims
// request, signs, and records the hash ledger entry.
func (e *Engine) mintIDToken(ctx context.Context, in mintInput, user *host.User, sub, accessForHash, codeForHash string) (string, error) {
	var container map[string]claims.ClaimsRequestMember
	if in.claimsRequest != nil {
		container = in.claimsRequest.IDToken
	}
	claimSet := e.assembler.Assemble(sub, user, in.scopes, container)

	bits := e.hashBits(ctx, in.client)
	idJWT, err := e.tokens.MintIDToken(e.signKid(in.client), token.IDTokenParams{
		Issuer:             e.cfg.Issuer,
		Audience:           in.client.ID,
		Claims:             claimSet,
		AuthTime:           in.authTime,
		Nonce:              in.nonce,
		AMR:                in.amr,
		Lifetime:           e.cfg.IDTokenLifespan,
		AccessTokenForHash: accessForHash,
		CodeForHash:        codeForHash,
		HashBits:           bits,
	})
	if err != nil {
		return "", oidcerr.CryptoServer(err, "minting id token")
	}
	rec := &store.IDTokenRecord{
		PluginName: e.cfg.PluginName,
		Username:   in.username,
		ClientID:   in.client.ID,
		Hash:       token.HashSecret(idJWT),
		IssuedAt:   time.Now(),
		ExpiresAt:  time.Now().Add(e.cfg.IDTokenLifespan),
	}
	if err := e.stor.InsertIDToken(ctx, rec); err != nil {
		return "", oidcerr.Persistence(err, "recording id token")
	}
	return idJWT, nil
}

// sectorSource adapts the host directory to the subject resolver's
// sector-uri lookup.
type sectorSource struct {
	h host.Host
}

func (s sectorSource) SectorIdentifierURI(clientID string) string {
	client, err := s.h.GetClient(context.Background(), clientID)
	if err != nil || client == nil {
		return ""
	}
	return client.SectorIdentifierURI
}

func parseRawDetails(raw string) ([]map[string]any, error) {
	var out []map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
