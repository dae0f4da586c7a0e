// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package consent implements the session/consent bridge: given the
// host's session, the client, and the requested scopes, decide between
// serving the authorization, redirecting to the login UI, or failing under
// prompt=none.
package consent

import (
	"context"
	"strings"
	"time"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/host"
	"github.com/ssoplugins/oidcauthz/pkg/oidcerr"
)

// Config declares per-scope authentication requirements.
type Config struct {
	PluginName string
	// ScopeSchemes maps a scope to the authentication schemes the session
	// must have satisfied before the scope is authorized. Scopes absent from
	// the map require no scheme beyond a valid session.
	ScopeSchemes map[string][]string
	// PasswordScopes lists scopes that additionally require the "password"
	// scheme.
	PasswordScopes []string
}

// ScopeState is the per-scope availability/grant/authorization
// reconstruction the bridge decides on.
type ScopeState struct {
	Scope      string
	Available  bool // the user has the scope
	Granted    bool // the client has been granted the scope by the user
	Authorized bool // every required scheme is satisfied this session
	// MissingSchemes are the schemes still required before Authorized.
	MissingSchemes []string
}

// Outcome is the bridge's decision.
type Outcome int

const (
	// OutcomeProceed means at least one scope is authorized+granted and
	// nothing requires further interaction.
	OutcomeProceed Outcome = iota
	// OutcomeRedirectLogin means interactive login/consent is required.
	OutcomeRedirectLogin
)

// Decision carries the outcome plus the inputs flow engines need next.
type Decision struct {
	Outcome Outcome
	Session *host.Session
	// Scopes is the set that is both granted and authorized; engines issue
	// tokens for exactly this set.
	Scopes []string
	// AMR is the session's satisfied-scheme set at decision time.
	AMR    []string
	States []ScopeState
}

// Bridge evaluates sessions against scope requirements.
type Bridge struct {
	cfg  Config
	sess host.SessionHost
}

// New builds a Bridge.
func New(cfg Config, sess host.SessionHost) *Bridge {
	return &Bridge{cfg: cfg, sess: sess}
}

// Evaluate reconstructs the per-scope state and decides. promptNone forbids
// any redirect: a session that is valid but lacks a required scheme yields
// interaction_required rather than silent success. maxAge, when
// non-negative, forces a login refresh if exceeded by the session age.
func (b *Bridge) Evaluate(ctx context.Context, requestToken, clientID string, scopes []string, promptNone bool, forceLogin bool, maxAge int64) (*Decision, error) {
	scopeStr := strings.Join(scopes, " ")
	session, err := b.sess.CheckSessionValid(ctx, requestToken, scopeStr)
	if err != nil {
		return nil, oidcerr.Persistence(err, "session validation failed")
	}
	if session == nil {
		if promptNone {
			return nil, oidcerr.Protocol(oidcerr.CodeLoginRequired, "no valid session and prompt=none")
		}
		return &Decision{Outcome: OutcomeRedirectLogin}, nil
	}

	if forceLogin {
		if promptNone {
			return nil, oidcerr.Protocol(oidcerr.CodeLoginRequired, "interactive prompt requested with prompt=none")
		}
		return &Decision{Outcome: OutcomeRedirectLogin, Session: session}, nil
	}

	if maxAge >= 0 {
		age, err := b.sess.GetSessionAge(ctx, requestToken)
		if err != nil {
			return nil, oidcerr.Persistence(err, "session age lookup failed")
		}
		if age > time.Duration(maxAge)*time.Second {
			if promptNone {
				return nil, oidcerr.Protocol(oidcerr.CodeLoginRequired, "session exceeds max_age and prompt=none")
			}
			return &Decision{Outcome: OutcomeRedirectLogin, Session: session}, nil
		}
	}

	granted, err := b.sess.GetClientGrantedScopes(ctx, clientID, session.Username, scopeStr)
	if err != nil {
		return nil, oidcerr.Persistence(err, "granted-scope lookup failed")
	}
	grantedSet := toSet(granted)
	amrSet := toSet(session.AMR)

	states := make([]ScopeState, 0, len(scopes))
	var authorized []string
	needsAuth := false
	for _, s := range scopes {
		st := ScopeState{Scope: s, Available: true}
		_, st.Granted = grantedSet[s]
		st.MissingSchemes = b.missingSchemes(s, amrSet)
		st.Authorized = len(st.MissingSchemes) == 0
		if st.Granted && !st.Authorized {
			needsAuth = true
		}
		if st.Granted && st.Authorized {
			authorized = append(authorized, s)
		}
		states = append(states, st)
	}

	if len(authorized) > 0 && !needsAuth {
		return &Decision{
			Outcome: OutcomeProceed,
			Session: session,
			Scopes:  authorized,
			AMR:     session.AMR,
			States:  states,
		}, nil
	}

	log.Debugw("authorization requires interaction",
		"plugin", b.cfg.PluginName, "client", clientID, "needs_auth", needsAuth)
	if promptNone {
		if needsAuth {
			return nil, oidcerr.Protocol(oidcerr.CodeInteractionRequired, "scope requires further authentication and prompt=none")
		}
		return nil, oidcerr.Protocol(oidcerr.CodeInteractionRequired, "consent required and prompt=none")
	}
	return &Decision{Outcome: OutcomeRedirectLogin, Session: session, States: states}, nil
}

// missingSchemes returns the schemes required by scope that the session's
// amr set does not yet satisfy.
func (b *Bridge) missingSchemes(scope string, amr map[string]struct{}) []string {
	var missing []string
	for _, scheme := range b.cfg.ScopeSchemes[scope] {
		if _, ok := amr[scheme]; !ok {
			missing = append(missing, scheme)
		}
	}
	for _, ps := range b.cfg.PasswordScopes {
		if ps == scope {
			if _, ok := amr["password"]; !ok && !contains(missing, "password") {
				missing = append(missing, "password")
			}
		}
	}
	return missing
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, v := range list {
		out[v] = struct{}{}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
