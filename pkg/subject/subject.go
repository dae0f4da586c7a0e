// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package subject resolves stable `sub` values under the public and
// pairwise subject types.
package subject

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/ssoplugins/oidcauthz/internal/log"
	"github.com/ssoplugins/oidcauthz/pkg/store"
)

// subjectIDLen is the length of a generated subject identifier.
const subjectIDLen = 32

// Store is the narrow persistence contract Resolver needs.
type Store interface {
	FindSubjectIdentifier(ctx context.Context, pluginName, username, clientOrSector string) (*store.SubjectIdentifier, error)
	InsertSubjectIdentifier(ctx context.Context, rec *store.SubjectIdentifier) error
}

// Resolver assigns and looks up subject identifiers per the configured
// SubjectType.
type Resolver struct {
	pluginName string
	subjType   store.SubjectType
	backing    Store
}

// New builds a Resolver for one plugin instance.
func New(pluginName string, subjType store.SubjectType, backing Store) *Resolver {
	if subjType == "" {
		subjType = store.SubjectPublic
	}
	return &Resolver{pluginName: pluginName, subjType: subjType, backing: backing}
}

// SectorSource supplies the client's declared sector_identifier_uri, if any.
type SectorSource interface {
	SectorIdentifierURI(clientID string) string
}

// Resolve returns the stable sub for (username, clientID), generating and
// persisting one on first use. sectors may be nil, in which case pairwise
// resolution keys strictly on clientID.
func (r *Resolver) Resolve(ctx context.Context, username, clientID string, sectors SectorSource) (string, error) {
	key := r.keyFor(clientID, sectors)

	existing, err := r.backing.FindSubjectIdentifier(ctx, r.pluginName, username, key)
	if err != nil {
		return "", fmt.Errorf("subject: lookup failed: %w", err)
	}
	if existing != nil {
		return existing.Sub, nil
	}

	sub, err := generateSubject()
	if err != nil {
		return "", fmt.Errorf("subject: generating subject identifier: %w", err)
	}
	rec := &store.SubjectIdentifier{
		PluginName:     r.pluginName,
		Username:       username,
		ClientOrSector: key,
		Sub:            sub,
	}
	if err := r.backing.InsertSubjectIdentifier(ctx, rec); err != nil {
		// Another request may have raced us to the insert; re-read rather
		// than surface a spurious failure.
		existing, findErr := r.backing.FindSubjectIdentifier(ctx, r.pluginName, username, key)
		if findErr == nil && existing != nil {
			return existing.Sub, nil
		}
		return "", fmt.Errorf("subject: inserting subject identifier: %w", err)
	}
	log.Debugw("subject identifier assigned", "plugin", r.pluginName, "type", r.subjType)
	return sub, nil
}

func (r *Resolver) keyFor(clientID string, sectors SectorSource) string {
	if r.subjType == store.SubjectPublic {
		return ""
	}
	if sectors != nil {
		if sector := sectors.SectorIdentifierURI(clientID); sector != "" {
			return "sector:" + strings.TrimSuffix(sector, "/")
		}
	}
	return "client:" + clientID
}

func generateSubject() (string, error) {
	buf := make([]byte, subjectIDLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	if len(enc) > subjectIDLen {
		enc = enc[:subjectIDLen]
	}
	return strings.ToLower(enc), nil
}
