// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/host/mocks"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

func bridgeWith(t *testing.T, cfg Config, setup func(*mocks.MockSessionHost)) *Bridge {
	t.Helper()
	ctrl := gomock.NewController(t)
	sess := mocks.NewMockSessionHost(ctrl)
	if setup != nil {
		setup(sess)
	}
	cfg.PluginName = "oidc"
	return New(cfg, sess)
}

func TestEvaluate_Proceed(t *testing.T) {
	t.Parallel()

	b := bridgeWith(t, Config{}, func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), "cookie", "openid profile").
			Return(&host.Session{Username: "alice", StartedAt: time.Now(), AMR: []string{"password"}}, nil)
		m.EXPECT().GetClientGrantedScopes(gomock.Any(), "c1", "alice", "openid profile").
			Return([]string{"openid", "profile"}, nil)
	})

	d, err := b.Evaluate(context.Background(), "cookie", "c1", []string{"openid", "profile"}, false, false, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProceed, d.Outcome)
	assert.ElementsMatch(t, []string{"openid", "profile"}, d.Scopes)
	assert.Equal(t, []string{"password"}, d.AMR)
}

func TestEvaluate_NoSession(t *testing.T) {
	t.Parallel()

	b := bridgeWith(t, Config{}, func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	})

	d, err := b.Evaluate(context.Background(), "", "c1", []string{"openid"}, false, false, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectLogin, d.Outcome)

	// prompt=none never redirects.
	_, err = b.Evaluate(context.Background(), "", "c1", []string{"openid"}, true, false, -1)
	require.Error(t, err)
	oe, ok := oidcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, oidcerr.CodeLoginRequired, oe.Code)
}

func TestEvaluate_MissingSchemeNeverSilent(t *testing.T) {
	t.Parallel()

	cfg := Config{ScopeSchemes: map[string][]string{"payments": {"otp"}}}
	setup := func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&host.Session{Username: "alice", StartedAt: time.Now(), AMR: []string{"password"}}, nil).AnyTimes()
		m.EXPECT().GetClientGrantedScopes(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return([]string{"payments"}, nil).AnyTimes()
	}

	// A valid session missing a required scheme redirects...
	b := bridgeWith(t, cfg, setup)
	d, err := b.Evaluate(context.Background(), "cookie", "c1", []string{"payments"}, false, false, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectLogin, d.Outcome)

	// ...and under prompt=none produces interaction_required, never silent
	// success.
	b2 := bridgeWith(t, cfg, setup)
	_, err = b2.Evaluate(context.Background(), "cookie", "c1", []string{"payments"}, true, false, -1)
	require.Error(t, err)
	oe, ok := oidcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, oidcerr.CodeInteractionRequired, oe.Code)
}

func TestEvaluate_PasswordScopes(t *testing.T) {
	t.Parallel()

	cfg := Config{PasswordScopes: []string{"banking"}}
	b := bridgeWith(t, cfg, func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&host.Session{Username: "alice", StartedAt: time.Now(), AMR: []string{"webauthn"}}, nil)
		m.EXPECT().GetClientGrantedScopes(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return([]string{"banking"}, nil)
	})

	d, err := b.Evaluate(context.Background(), "cookie", "c1", []string{"banking"}, false, false, -1)
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirectLogin, d.Outcome)
	require.Len(t, d.States, 1)
	assert.Contains(t, d.States[0].MissingSchemes, "password")
}

func TestEvaluate_MaxAge(t *testing.T) {
	t.Parallel()

	b := bridgeWith(t, Config{}, func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&host.Session{Username: "alice", StartedAt: time.Now().Add(-time.Hour)}, nil)
		m.EXPECT().GetSessionAge(gomock.Any(), gomock.Any()).Return(time.Hour, nil)
	})

	d, err := b.Evaluate(context.Background(), "cookie", "c1", []string{"openid"}, false, false, 60)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectLogin, d.Outcome)
}

func TestEvaluate_ForceLogin(t *testing.T) {
	t.Parallel()

	b := bridgeWith(t, Config{}, func(m *mocks.MockSessionHost) {
		m.EXPECT().CheckSessionValid(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&host.Session{Username: "alice", StartedAt: time.Now()}, nil)
	})

	d, err := b.Evaluate(context.Background(), "cookie", "c1", []string{"openid"}, false, true, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirectLogin, d.Outcome)
}
