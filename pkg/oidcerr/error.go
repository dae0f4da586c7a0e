// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oidcerr defines the typed error result the authorization server
// uses internally instead of the ad-hoc integer/string return codes a C
// implementation would use. The RFC wire string and HTTP status are derived
// from the Kind/Code, never stored redundantly alongside the error.
package oidcerr

import "fmt"

// Kind classifies an error by severity tier, in
// increasing severity.
type Kind int

const (
	// KindProtocol is a client-facing RFC error (invalid_request, invalid_grant, ...).
	KindProtocol Kind = iota
	// KindPersistence is a storage failure; always surfaced as server_error/500.
	KindPersistence
	// KindCrypto is a keygen/sign/verify failure; server_error/500 for our own
	// operations, invalid_client/403 for verification mismatches on incoming
	// material (see CryptoClient).
	KindCrypto
	// KindReplay is a detected replay/reuse attempt; logged at WARN, counted,
	// and may cascade to disable descendant tokens.
	KindReplay
)

// Code is one of the RFC-defined error codes the protocol surfaces.
type Code string

// RFC 6749 / RFC 8628 / OIDC Core error codes.
const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeInvalidScope            Code = "invalid_scope"
	CodeInvalidClient           Code = "invalid_client"
	CodeInvalidGrant            Code = "invalid_grant"
	CodeInvalidTarget           Code = "invalid_target"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeUnauthorizedClient      Code = "unauthorized_client"
	CodeAccessDenied            Code = "access_denied"
	CodeInteractionRequired     Code = "interaction_required"
	CodeAuthorizationPending    Code = "authorization_pending"
	CodeSlowDown                Code = "slow_down"
	CodeExpiredToken            Code = "expired_token"
	CodeLoginRequired           Code = "login_required"
	CodeServerError             Code = "server_error"
)

// Error is the result type carried by authorization-server operations
// instead of a bare error. It always derives its wire Code and HTTP status
// from Kind/Code rather than storing them independently.
type Error struct {
	Kind        Kind
	Code        Code
	Description string
	// Cause is the underlying error, if any, kept for logging only — never
	// serialized to the client.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code this error should be surfaced with.
func (e *Error) Status() int {
	switch e.Kind {
	case KindPersistence, KindReplay:
		return 500
	case KindCrypto:
		if e.Code == CodeInvalidClient {
			return 403
		}
		return 500
	case KindProtocol:
		return protocolStatus(e.Code)
	default:
		return 500
	}
}

func protocolStatus(c Code) int {
	switch c {
	case CodeAccessDenied, CodeUnauthorizedClient:
		return 403
	case CodeInvalidClient:
		return 401
	default:
		return 400
	}
}

// Protocol builds a client-facing RFC protocol error.
func Protocol(code Code, description string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Description: description}
}

// Protocolf builds a client-facing RFC protocol error with a wrapped cause.
func Protocolf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Code: code, Description: fmt.Sprintf(format, args...), Cause: cause}
}

// Persistence builds a persistence-layer error; always server_error on the wire.
func Persistence(cause error, description string) *Error {
	return &Error{Kind: KindPersistence, Code: CodeServerError, Description: description, Cause: cause}
}

// CryptoServer builds a crypto failure on our own signing/encryption path.
func CryptoServer(cause error, description string) *Error {
	return &Error{Kind: KindCrypto, Code: CodeServerError, Description: description, Cause: cause}
}

// CryptoClient builds a crypto verification failure on incoming client
// material (bad signature, bad assertion, ...): invalid_client/403.
func CryptoClient(cause error, description string) *Error {
	return &Error{Kind: KindCrypto, Code: CodeInvalidClient, Description: description, Cause: cause}
}

// Replay builds a replay/reuse detection error.
func Replay(description string) *Error {
	return &Error{Kind: KindReplay, Code: CodeInvalidGrant, Description: description}
}

// As reports whether err is (or wraps) an *Error, mirroring errors.As.
func As(err error) (*Error, bool) {
	var oe *Error
	for err != nil {
		if e, ok := err.(*Error); ok { //nolint:errorlint // intentional shallow check with manual unwrap loop
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return oe, false
}
