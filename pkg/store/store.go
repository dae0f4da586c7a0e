// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-record lookups when no record matches.
// Flow engines generally treat it the same as (nil, nil); it exists for
// backends where a typed sentinel is more natural than a nil pointer (the
// SQL backend, in particular).
var ErrNotFound = errors.New("store: not found")

// Dialect names a backend implementation: the SQL dialects diverge only on
// timestamp literals and bind syntax, generalized here to the backend
// families this module actually ships.
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectRedis    Dialect = "redis"
	// DialectMariaDB is recognized for forward compatibility but no MySQL
	// driver ships in this build; selecting it is a configuration error
	// (see DESIGN.md).
	DialectMariaDB Dialect = "mariadb"
)

// Store is the token-store contract: persistence, hash-indexed lookup,
// replay detection, and enumeration for every persisted entity. Every
// multi-row aggregate write (code+scopes+amr, refresh+scopes, PAR+scopes,
// device-authz+scopes) must be internally serialized so that a concurrent
// reader never observes a parent row without its children.
type Store interface {
	AuthorizationCodeStore
	RefreshTokenStore
	AccessTokenStore
	IDTokenStore
	SubjectStore
	DeviceStore
	PARStore
	DPoPStore
	ClientAssertionStore
	ClientRegistrationStore
	RARConsentStore

	// Close releases any held resources (connections, background cleanup
	// goroutines). Safe to call multiple times.
	Close() error
}

// AuthorizationCodeStore persists and validates authorization codes.
type AuthorizationCodeStore interface {
	// InsertAuthorizationCode atomically stores code plus its scopes and
	// amr set.
	InsertAuthorizationCode(ctx context.Context, rec *AuthorizationCode) error
	// FindAuthorizationCodeByHash returns the code record regardless of its
	// enabled flag, so callers can detect and react to replay.
	FindAuthorizationCodeByHash(ctx context.Context, pluginName, hash string) (*AuthorizationCode, error)
	// DisableAuthorizationCode flips the code's enabled flag to false.
	DisableAuthorizationCode(ctx context.Context, pluginName, id string) error
	// DisableDescendantsOfCode disables every access/refresh token minted
	// from this code, used on replay detection when the policy flag is set.
	DisableDescendantsOfCode(ctx context.Context, pluginName, codeID string) error
}

// RefreshTokenStore persists and validates refresh tokens.
type RefreshTokenStore interface {
	InsertRefreshToken(ctx context.Context, rec *RefreshToken) error
	// FindRefreshTokenByHash returns the token only if Enabled and not
	// expired; returns (nil, nil) otherwise so callers can distinguish
	// "absent" from "disabled/expired" only by re-querying with
	// FindRefreshTokenByHashAny when reuse detection is needed.
	FindRefreshTokenByHash(ctx context.Context, pluginName, hash string) (*RefreshToken, error)
	// FindRefreshTokenByHashAny returns the token regardless of Enabled/expiry.
	FindRefreshTokenByHashAny(ctx context.Context, pluginName, hash string) (*RefreshToken, error)
	DisableRefreshToken(ctx context.Context, pluginName, id string) error
	// DisableRefreshTokensByJTI disables every refresh token sharing jti,
	// used when a disabled one-use token is replayed.
	DisableRefreshTokensByJTI(ctx context.Context, pluginName, jti string) error
	UpdateRefreshTokenLastSeen(ctx context.Context, pluginName, id string, lastSeen, expiresAt time.Time) error
	ListRefreshTokens(ctx context.Context, pluginName string, filter RefreshTokenFilter) ([]*RefreshToken, error)
}

// AccessTokenStore keeps the audit ledger for issued access tokens.
type AccessTokenStore interface {
	InsertAccessToken(ctx context.Context, rec *AccessTokenRecord) error
	FindAccessTokenByHash(ctx context.Context, pluginName, hash string) (*AccessTokenRecord, error)
	DisableAccessToken(ctx context.Context, pluginName, id string) error
	DisableAccessTokensByRefreshID(ctx context.Context, pluginName, refreshID string) error
}

// IDTokenStore keeps the hash-only ID-token ledger.
type IDTokenStore interface {
	InsertIDToken(ctx context.Context, rec *IDTokenRecord) error
	// LastIDTokenFor returns the most recently issued ID token's record for
	// (client, user), used to validate id_token_hint at prompt=none.
	LastIDTokenFor(ctx context.Context, pluginName, clientID, username string) (*IDTokenRecord, error)
	// DeleteIDTokenByHash removes the ledger entry for a revoked ID token,
	// reporting whether one matched.
	DeleteIDTokenByHash(ctx context.Context, pluginName, hash string) (bool, error)
}

// SubjectStore backs the subject resolver.
type SubjectStore interface {
	FindSubjectIdentifier(ctx context.Context, pluginName, username, clientOrSector string) (*SubjectIdentifier, error)
	InsertSubjectIdentifier(ctx context.Context, rec *SubjectIdentifier) error
}

// DeviceStore backs the device-code flow.
type DeviceStore interface {
	InsertDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error
	FindDeviceAuthorizationByDeviceHash(ctx context.Context, pluginName, hash string) (*DeviceAuthorization, error)
	FindDeviceAuthorizationByUserHash(ctx context.Context, pluginName, hash string) (*DeviceAuthorization, error)
	// UpdateDeviceStatus advances the device lifecycle; username and amr are
	// recorded when the user authorizes (status 1).
	UpdateDeviceStatus(ctx context.Context, pluginName, id string, status DeviceStatus, username string, amr []string) error
	UpdateDeviceLastPoll(ctx context.Context, pluginName, id string, at time.Time) error
}

// PARStore backs the Pushed Authorization Request endpoint.
type PARStore interface {
	InsertPAR(ctx context.Context, rec *PushedAuthorizationRequest) error
	FindPARByHash(ctx context.Context, pluginName, hash string) (*PushedAuthorizationRequest, error)
	UpdatePARStatus(ctx context.Context, pluginName, id string, status PARStatus) error
}

// DPoPStore indexes seen DPoP proof jtis for replay prevention.
type DPoPStore interface {
	// InsertDPoPJTI fails (ErrNotFound is not used here; any non-nil error)
	// if (plugin, client, jti-hash) already exists, so the caller can
	// reject the request.
	InsertDPoPJTI(ctx context.Context, rec *DPoPJTI) error
}

// ClientAssertionStore indexes seen client_assertion jtis.
type ClientAssertionStore interface {
	InsertClientAssertionJTI(ctx context.Context, rec *ClientAssertionJTI) error
}

// ClientRegistrationStore backs Dynamic Client Registration.
type ClientRegistrationStore interface {
	InsertClientRegistration(ctx context.Context, rec *ClientRegistration) error
	FindClientRegistration(ctx context.Context, pluginName, clientID string) (*ClientRegistration, error)
	UpdateClientRegistrationToken(ctx context.Context, pluginName, clientID, managementTokenID string) error
	DeleteClientRegistration(ctx context.Context, pluginName, clientID string) error
}

// RARConsentStore backs the RAR consent UI.
type RARConsentStore interface {
	FindRARConsent(ctx context.Context, pluginName, username, clientID, typ string) (*RARConsent, error)
	UpsertRARConsent(ctx context.Context, rec *RARConsent) error
	DeleteRARConsent(ctx context.Context, pluginName, username, clientID, typ string) error
}
