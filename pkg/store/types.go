// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store defines the persistent data model and the
// Store interface used by every flow engine. Secrets are
// never persisted in plaintext. The token hash fields hold the unsalted
// SHA-256 digest from token.HashSecret; no salt is applied to them. Only the
// registration management-token hash comes from the host's salted
// GenerateHash callback (see pkg/host).
package store

import "time"

// AuthorizationCode is a one-shot credential returned via the front channel.
type AuthorizationCode struct {
	ID             string
	PluginName     string
	Username       string
	ClientID       string
	RedirectURI    string
	CodeHash       string
	IssuedFor      string // audience / resource at issuance time
	UserAgent      string
	Nonce          string
	ResourceURI    string
	ClaimsRequest  string // raw JSON
	AuthDetails    string // raw JSON, RAR
	FlowTypes      FlowTypeFlags
	ExpiresAt      time.Time
	CodeChallenge  string // literal, or "{SHA256}<b64url>"
	CodeChallengeM string // "plain" | "S256"
	Enabled        bool
	Scopes         []string
	AMR            []string
	CreatedAt      time.Time
}

// FlowTypeFlags records which response types produced this code, needed to
// decide whether an id_token/access_token must also be minted at redemption.
type FlowTypeFlags struct {
	Code    bool
	Token   bool
	IDToken bool
}

// RefreshToken is a long-lived token bound to (user, client, scope, resource).
type RefreshToken struct {
	ID            string
	PluginName    string
	ParentCodeID  string
	Username      string
	ClientID      string
	TokenHash     string
	JTI           string // populated when policy is one-use
	Scopes        []string
	Resource      string
	ClaimsRequest string
	AuthDetails   string
	JKT           string // DPoP confirmation thumbprint, optional
	X5TS256       string // mTLS confirmation thumbprint, optional
	Rolling       bool
	Duration      time.Duration
	IssuedAt      time.Time
	LastSeenAt    time.Time
	ExpiresAt     time.Time
	Enabled       bool
}

// AccessTokenRecord is an audit-only record; the bearer form is the JWT itself.
type AccessTokenRecord struct {
	ID              string
	PluginName      string
	AuthorizeType   string // "code" | "password" | "client_credentials" | "refresh_token" | "device_code"
	ParentRefreshID string
	Username        string
	ClientID        string
	Scopes          []string
	Resource        string
	Hash            string
	JTI             string
	AuthDetails     string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Enabled         bool
}

// IDTokenRecord is a hash-only ledger used to validate id_token_hint at
// prompt=none and to support revocation.
type IDTokenRecord struct {
	PluginName string
	Username   string
	ClientID   string
	Hash       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// SubjectType selects the sub-assignment policy.
type SubjectType string

const (
	SubjectPublic   SubjectType = "public"
	SubjectPairwise SubjectType = "pairwise"
)

// SubjectIdentifier maps (plugin, username, client-or-sector) to a stable sub.
type SubjectIdentifier struct {
	PluginName string
	Username   string
	// ClientOrSector is empty for SubjectPublic, else the client_id or the
	// client's sector_identifier_uri.
	ClientOrSector string
	Sub            string
	CreatedAt      time.Time
}

// DeviceStatus is the lifecycle stage of a DeviceAuthorization record.
type DeviceStatus int

const (
	DevicePending DeviceStatus = iota
	DeviceAuthorized
	DeviceRedeemed
)

// DeviceAuthorization is the device-code-flow aggregate.
type DeviceAuthorization struct {
	ID             string
	PluginName     string
	DeviceCodeHash string
	UserCodeHash   string // uppercased before hashing
	ClientID       string
	Scopes         []string
	Resource       string
	AuthDetails    string
	Status         DeviceStatus
	Username       string // set once Status >= DeviceAuthorized
	AMR            []string
	LastPollAt     time.Time
	Interval       time.Duration
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// PARStatus is the lifecycle stage of a pushed authorization request.
type PARStatus int

const (
	PARFresh PARStatus = iota
	PARConsumedOnce
	PARFinalized
)

// PushedAuthorizationRequest holds a previously pushed /par payload.
type PushedAuthorizationRequest struct {
	ID             string
	PluginName     string
	RequestURIRaw  string // full "urn:...:<random>" handle
	RequestURIHash string
	Params         string // full serialized request parameters (url.Values, JSON-encoded)
	Status         PARStatus
	ClientID       string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// DPoPJTI records a seen DPoP proof jti for replay prevention.
type DPoPJTI struct {
	PluginName string
	ClientID   string
	JTIHash    string
	JKT        string
	HTM        string
	HTU        string
	IssuedAt   time.Time
	SeenAt     time.Time
}

// ClientAssertionJTI records a seen client_assertion jti for
// client_secret_jwt / private_key_jwt replay prevention.
type ClientAssertionJTI struct {
	PluginName string
	ClientID   string
	JTIHash    string
	SeenAt     time.Time
}

// ClientRegistration links a DCR-created client back to the host directory,
// storing only IDs to avoid a cyclic reference.
type ClientRegistration struct {
	PluginName        string
	ClientID          string
	ManagementTokenID string // hash of the registration_access_token
	InitialAccessID   string
	CreatedAt         time.Time
}

// RARConsent is a user's recorded consent decision for one RAR
// authorization_details "type" against one client.
type RARConsent struct {
	PluginName string
	Username   string
	ClientID   string
	Type       string
	Enabled    bool
	Consent    bool
	UpdatedAt  time.Time
}

// RefreshTokenFilter narrows a user's refresh-token listing.
type RefreshTokenFilter struct {
	Username      string
	ClientID      string
	UserAgentLike string
	IssuedForLike string
	SortBy        string // "issued_at" | "last_seen_at"
	Descending    bool
	Offset        int
	Limit         int
}
