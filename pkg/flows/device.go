// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package flows

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
	"github.com/ssoplugins/oidcauthz/pkg/store"
	"github.com/ssoplugins/oidcauthz/pkg/token"
)

// userCodeAlphabet excludes the easily confused 0, 1 and I.
const userCodeAlphabet = "ABCDEFGHJKLMNOPQRSTUVWXYZ23456789"

// DeviceAuthorizationResponse is the /device_authorization success body
// (RFC 8628 §3.2).
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// DeviceAuthorize mints the device/user code pair and records the pending
// authorization. verificationURI is the absolute /device URL.
func (e *Engine) DeviceAuthorize(ctx context.Context, client *host.Client, scopes []string, resource, authDetails, verificationURI string) (*DeviceAuthorizationResponse, error) {
	deviceCode, err := token.NewRefreshToken()
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "minting device code")
	}
	userCode, err := newUserCode()
	if err != nil {
		return nil, oidcerr.CryptoServer(err, "minting user code")
	}

	rec := &store.DeviceAuthorization{
		ID:             uuid.NewString(),
		PluginName:     e.cfg.PluginName,
		DeviceCodeHash: token.HashSecret(deviceCode),
		UserCodeHash:   token.HashSecret(strings.ToUpper(userCode)),
		ClientID:       client.ID,
		Scopes:         scopes,
		Resource:       resource,
		AuthDetails:    authDetails,
		Status:         store.DevicePending,
		Interval:       e.cfg.DeviceInterval,
		ExpiresAt:      time.Now().Add(e.cfg.DeviceCodeLifespan),
	}
	if err := e.stor.InsertDeviceAuthorization(ctx, rec); err != nil {
		return nil, oidcerr.Persistence(err, "recording device authorization")
	}
	log.Infow("device authorization started", "plugin", e.cfg.PluginName, "client", client.ID)

	return &DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?code=" + userCode,
		ExpiresIn:               int64(e.cfg.DeviceCodeLifespan.Seconds()),
		Interval:                int64(e.cfg.DeviceInterval.Seconds()),
	}, nil
}

// newUserCode renders the XXXX-XXXX user code.
func newUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("flows: generating user code: %w", err)
	}
	chars := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			chars = append(chars, '-')
		}
		chars = append(chars, userCodeAlphabet[int(b)%len(userCodeAlphabet)])
	}
	return string(chars), nil
}

// deviceCodeGrant is the /token poll for grant
// urn:ietf:params:oauth:grant-type:device_code.
func (e *Engine) deviceCodeGrant(ctx context.Context, tr *TokenRequest) (*TokenResponse, error) {
	if tr.DeviceCode == "" {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidRequest, "device_code is required")
	}
	rec, err := e.stor.FindDeviceAuthorizationByDeviceHash(ctx, e.cfg.PluginName, token.HashSecret(tr.DeviceCode))
	if err != nil || rec == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "unknown device_code")
	}
	if rec.ClientID != tr.Client.ID {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "device_code was issued to a different client")
	}

	now := time.Now()
	if now.After(rec.ExpiresAt) {
		return nil, oidcerr.Protocol(oidcerr.CodeExpiredToken, "device_code expired")
	}
	if !rec.LastPollAt.IsZero() && now.Sub(rec.LastPollAt) < rec.Interval {
		// Still record the too-fast poll so back-to-back polling keeps
		// getting slow_down.
		_ = e.stor.UpdateDeviceLastPoll(ctx, e.cfg.PluginName, rec.ID, now)
		return nil, oidcerr.Protocol(oidcerr.CodeSlowDown, "polling faster than the advertised interval")
	}
	if err := e.stor.UpdateDeviceLastPoll(ctx, e.cfg.PluginName, rec.ID, now); err != nil {
		return nil, oidcerr.Persistence(err, "recording device poll")
	}

	switch rec.Status {
	case store.DevicePending:
		return nil, oidcerr.Protocol(oidcerr.CodeAuthorizationPending, "user has not yet authorized the device")
	case store.DeviceRedeemed:
		return nil, oidcerr.Protocol(oidcerr.CodeAccessDenied, "device_code already redeemed")
	}

	if err := e.stor.UpdateDeviceStatus(ctx, e.cfg.PluginName, rec.ID, store.DeviceRedeemed, rec.Username, nil); err != nil {
		return nil, oidcerr.Persistence(err, "redeeming device authorization")
	}

	return e.mintUserTokens(ctx, mintInput{
		client:         tr.Client,
		username:       rec.Username,
		scopes:         rec.Scopes,
		resource:       rec.Resource,
		authDetails:    rec.AuthDetails,
		amr:            rec.AMR,
		cnf:            tr.confirmation(),
		authorizeType:  "device_code",
		authTime:       time.Now(),
		includeID:      hasScope(rec.Scopes, "openid"),
		includeRefresh: true,
		userAgent:      tr.UserAgent,
	})
}

// LookupUserCode resolves a user-entered code (uppercased before hashing)
// to its pending device record, for the /device UI.
func (e *Engine) LookupUserCode(ctx context.Context, userCode string) (*store.DeviceAuthorization, error) {
	normalized := strings.ToUpper(strings.TrimSpace(userCode))
	rec, err := e.stor.FindDeviceAuthorizationByUserHash(ctx, e.cfg.PluginName, token.HashSecret(normalized))
	if err != nil || rec == nil {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "unknown user code")
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, oidcerr.Protocol(oidcerr.CodeExpiredToken, "user code expired")
	}
	if rec.Status != store.DevicePending {
		return nil, oidcerr.Protocol(oidcerr.CodeInvalidGrant, "user code already handled")
	}
	return rec, nil
}

// ApproveDevice marks a pending device record user-authorized after the
// user consented through the login UI.
func (e *Engine) ApproveDevice(ctx context.Context, rec *store.DeviceAuthorization, username string, amr []string) error {
	if err := e.stor.UpdateDeviceStatus(ctx, e.cfg.PluginName, rec.ID, store.DeviceAuthorized, username, amr); err != nil {
		return oidcerr.Persistence(err, "approving device authorization")
	}
	log.Infow("device authorization approved",
		"plugin", e.cfg.PluginName, "client", rec.ClientID, "device_id", rec.ID)
	return nil
}
