// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCleanupInterval is how often MemoryStore sweeps expired records
// when none is configured.
const DefaultCleanupInterval = 5 * time.Minute

// MemoryOption configures a MemoryStore at construction time.
type MemoryOption func(*MemoryStore)

// WithCleanupInterval overrides DefaultCleanupInterval.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.cleanupInterval = d }
}

// MemoryStore is the in-process Store backend: suitable for a single
// plugin-instance deployment or for tests. All state lives in plain Go
// maps guarded by a single mutex, the same process-wide mutex that
// serializes multi-row aggregate inserts; it is reused for every other
// operation too since there is no concurrency benefit to splitting it for
// an in-memory backend.
type MemoryStore struct {
	mu sync.Mutex

	codes         map[string]*AuthorizationCode // keyed by id
	codesByHash   map[string]string             // hash -> id
	refresh       map[string]*RefreshToken
	refreshByHash map[string]string
	refreshByJTI  map[string][]string // jti -> ids
	access        map[string]*AccessTokenRecord
	accessByHash  map[string]string
	idTokens      []*IDTokenRecord
	subjects      map[string]*SubjectIdentifier // "plugin|user|clientOrSector"
	devices       map[string]*DeviceAuthorization
	devByDevHash  map[string]string
	devByUserHash map[string]string
	pars          map[string]*PushedAuthorizationRequest
	parsByHash    map[string]string
	dpopSeen      map[string]struct{} // "plugin|client|hash"
	assertionSeen map[string]struct{}
	clientRegs    map[string]*ClientRegistration // "plugin|clientID"
	rarConsents   map[string]*RARConsent         // "plugin|user|client|type"

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// NewMemoryStore builds an empty MemoryStore and starts its background
// expiry sweep.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		codes:         make(map[string]*AuthorizationCode),
		codesByHash:   make(map[string]string),
		refresh:       make(map[string]*RefreshToken),
		refreshByHash: make(map[string]string),
		refreshByJTI:  make(map[string][]string),
		access:        make(map[string]*AccessTokenRecord),
		accessByHash:  make(map[string]string),
		subjects:      make(map[string]*SubjectIdentifier),
		devices:       make(map[string]*DeviceAuthorization),
		devByDevHash:  make(map[string]string),
		devByUserHash: make(map[string]string),
		pars:          make(map[string]*PushedAuthorizationRequest),
		parsByHash:    make(map[string]string),
		dpopSeen:      make(map[string]struct{}),
		assertionSeen: make(map[string]struct{}),
		clientRegs:    make(map[string]*ClientRegistration),
		rarConsents:   make(map[string]*RARConsent),

		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryStore) cleanupLoop() {
	t := time.NewTicker(m.cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.sweepExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryStore) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.codes {
		if now.After(c.ExpiresAt) {
			delete(m.codesByHash, c.CodeHash)
			delete(m.codes, id)
		}
	}
	for id, r := range m.refresh {
		if now.After(r.ExpiresAt) {
			delete(m.refreshByHash, r.TokenHash)
			delete(m.refresh, id)
		}
	}
	for id, p := range m.pars {
		if now.After(p.ExpiresAt) {
			delete(m.parsByHash, p.RequestURIHash)
			delete(m.pars, id)
		}
	}
	for id, d := range m.devices {
		if now.After(d.ExpiresAt) {
			delete(m.devByDevHash, d.DeviceCodeHash)
			delete(m.devByUserHash, d.UserCodeHash)
			delete(m.devices, id)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stopCleanup:
		// already closed
	default:
		close(m.stopCleanup)
	}
	return nil
}

// --- Authorization codes ---

func (m *MemoryStore) InsertAuthorizationCode(_ context.Context, rec *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	rec.Enabled = true
	cp := *rec
	m.codes[cp.ID] = &cp
	m.codesByHash[cp.CodeHash] = cp.ID
	return nil
}

func (m *MemoryStore) FindAuthorizationCodeByHash(_ context.Context, pluginName, hash string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.codesByHash[hash]
	if !ok {
		return nil, nil
	}
	c := m.codes[id]
	if c == nil || c.PluginName != pluginName {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) DisableAuthorizationCode(_ context.Context, pluginName, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[id]; ok && c.PluginName == pluginName {
		c.Enabled = false
	}
	return nil
}

func (m *MemoryStore) DisableDescendantsOfCode(_ context.Context, pluginName, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	disabledRefresh := map[string]struct{}{}
	for _, r := range m.refresh {
		if r.PluginName == pluginName && r.ParentCodeID == codeID {
			r.Enabled = false
			disabledRefresh[r.ID] = struct{}{}
		}
	}
	// Access tokens descend from the code through their refresh parent.
	for _, a := range m.access {
		if a.PluginName != pluginName {
			continue
		}
		if _, ok := disabledRefresh[a.ParentRefreshID]; ok {
			a.Enabled = false
		}
	}
	return nil
}

// --- Refresh tokens ---

func (m *MemoryStore) InsertRefreshToken(_ context.Context, rec *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IssuedAt = time.Now()
	rec.Enabled = true
	cp := *rec
	m.refresh[cp.ID] = &cp
	m.refreshByHash[cp.TokenHash] = cp.ID
	if cp.JTI != "" {
		m.refreshByJTI[cp.JTI] = append(m.refreshByJTI[cp.JTI], cp.ID)
	}
	return nil
}

func (m *MemoryStore) FindRefreshTokenByHash(_ context.Context, pluginName, hash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refreshByHash[hash]
	if !ok {
		return nil, nil
	}
	r := m.refresh[id]
	if r == nil || r.PluginName != pluginName || !r.Enabled || time.Now().After(r.ExpiresAt) {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) FindRefreshTokenByHashAny(_ context.Context, pluginName, hash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refreshByHash[hash]
	if !ok {
		return nil, nil
	}
	r := m.refresh[id]
	if r == nil || r.PluginName != pluginName {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) DisableRefreshToken(_ context.Context, pluginName, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.refresh[id]; ok && r.PluginName == pluginName {
		r.Enabled = false
	}
	return nil
}

func (m *MemoryStore) DisableRefreshTokensByJTI(_ context.Context, pluginName, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.refreshByJTI[jti] {
		if r, ok := m.refresh[id]; ok && r.PluginName == pluginName {
			r.Enabled = false
		}
	}
	return nil
}

func (m *MemoryStore) UpdateRefreshTokenLastSeen(_ context.Context, pluginName, id string, lastSeen, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.refresh[id]; ok && r.PluginName == pluginName {
		r.LastSeenAt = lastSeen
		r.ExpiresAt = expiresAt
	}
	return nil
}

func (m *MemoryStore) ListRefreshTokens(_ context.Context, pluginName string, filter RefreshTokenFilter) ([]*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*RefreshToken
	for _, r := range m.refresh {
		if r.PluginName != pluginName || !r.Enabled {
			continue
		}
		if filter.Username != "" && r.Username != filter.Username {
			continue
		}
		if filter.ClientID != "" && r.ClientID != filter.ClientID {
			continue
		}
		cp := *r
		matches = append(matches, &cp)
	}

	sort.Slice(matches, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "last_seen_at":
			less = matches[i].LastSeenAt.Before(matches[j].LastSeenAt)
		default:
			less = matches[i].IssuedAt.Before(matches[j].IssuedAt)
		}
		if filter.Descending {
			return !less
		}
		return less
	})

	if filter.Offset > 0 && filter.Offset < len(matches) {
		matches = matches[filter.Offset:]
	} else if filter.Offset >= len(matches) {
		matches = nil
	}
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// --- Access tokens ---

func (m *MemoryStore) InsertAccessToken(_ context.Context, rec *AccessTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IssuedAt = time.Now()
	rec.Enabled = true
	cp := *rec
	m.access[cp.ID] = &cp
	m.accessByHash[cp.Hash] = cp.ID
	return nil
}

func (m *MemoryStore) FindAccessTokenByHash(_ context.Context, pluginName, hash string) (*AccessTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.accessByHash[hash]
	if !ok {
		return nil, nil
	}
	a := m.access[id]
	if a == nil || a.PluginName != pluginName {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) DisableAccessToken(_ context.Context, pluginName, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.access[id]; ok && a.PluginName == pluginName {
		a.Enabled = false
	}
	return nil
}

func (m *MemoryStore) DisableAccessTokensByRefreshID(_ context.Context, pluginName, refreshID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.access {
		if a.PluginName == pluginName && a.ParentRefreshID == refreshID {
			a.Enabled = false
		}
	}
	return nil
}

// --- ID tokens ---

func (m *MemoryStore) InsertIDToken(_ context.Context, rec *IDTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.IssuedAt = time.Now()
	cp := *rec
	m.idTokens = append(m.idTokens, &cp)
	return nil
}

func (m *MemoryStore) LastIDTokenFor(_ context.Context, pluginName, clientID, username string) (*IDTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *IDTokenRecord
	for _, r := range m.idTokens {
		if r.PluginName != pluginName || r.ClientID != clientID || r.Username != username {
			continue
		}
		if latest == nil || r.IssuedAt.After(latest.IssuedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) DeleteIDTokenByHash(_ context.Context, pluginName, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.idTokens[:0]
	found := false
	for _, r := range m.idTokens {
		if r.PluginName == pluginName && r.Hash == hash {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	m.idTokens = kept
	return found, nil
}

// --- Subject identifiers ---

func subjectKey(pluginName, username, clientOrSector string) string {
	return pluginName + "|" + username + "|" + clientOrSector
}

func (m *MemoryStore) FindSubjectIdentifier(_ context.Context, pluginName, username, clientOrSector string) (*SubjectIdentifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[subjectKey(pluginName, username, clientOrSector)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) InsertSubjectIdentifier(_ context.Context, rec *SubjectIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subjectKey(rec.PluginName, rec.Username, rec.ClientOrSector)
	if _, exists := m.subjects[key]; exists {
		return errAlreadyExists
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.subjects[key] = &cp
	return nil
}

// --- Device authorization ---

func (m *MemoryStore) InsertDeviceAuthorization(_ context.Context, rec *DeviceAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.devices[cp.ID] = &cp
	m.devByDevHash[cp.DeviceCodeHash] = cp.ID
	m.devByUserHash[cp.UserCodeHash] = cp.ID
	return nil
}

func (m *MemoryStore) FindDeviceAuthorizationByDeviceHash(_ context.Context, pluginName, hash string) (*DeviceAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.devByDevHash[hash]
	if !ok {
		return nil, nil
	}
	d := m.devices[id]
	if d == nil || d.PluginName != pluginName {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) FindDeviceAuthorizationByUserHash(_ context.Context, pluginName, hash string) (*DeviceAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.devByUserHash[hash]
	if !ok {
		return nil, nil
	}
	d := m.devices[id]
	if d == nil || d.PluginName != pluginName {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) UpdateDeviceStatus(_ context.Context, pluginName, id string, status DeviceStatus, username string, amr []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok && d.PluginName == pluginName {
		d.Status = status
		if username != "" {
			d.Username = username
		}
		if len(amr) > 0 {
			d.AMR = amr
		}
	}
	return nil
}

func (m *MemoryStore) UpdateDeviceLastPoll(_ context.Context, pluginName, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok && d.PluginName == pluginName {
		d.LastPollAt = at
	}
	return nil
}

// --- PAR ---

func (m *MemoryStore) InsertPAR(_ context.Context, rec *PushedAuthorizationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	cp := *rec
	m.pars[cp.ID] = &cp
	m.parsByHash[cp.RequestURIHash] = cp.ID
	return nil
}

func (m *MemoryStore) FindPARByHash(_ context.Context, pluginName, hash string) (*PushedAuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.parsByHash[hash]
	if !ok {
		return nil, nil
	}
	p := m.pars[id]
	if p == nil || p.PluginName != pluginName {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePARStatus(_ context.Context, pluginName, id string, status PARStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pars[id]; ok && p.PluginName == pluginName {
		p.Status = status
	}
	return nil
}

// --- DPoP / client-assertion jti replay ---

func (m *MemoryStore) InsertDPoPJTI(_ context.Context, rec *DPoPJTI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.PluginName + "|" + rec.ClientID + "|" + rec.JTIHash
	if _, exists := m.dpopSeen[key]; exists {
		return errAlreadyExists
	}
	m.dpopSeen[key] = struct{}{}
	return nil
}

func (m *MemoryStore) InsertClientAssertionJTI(_ context.Context, rec *ClientAssertionJTI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.PluginName + "|" + rec.ClientID + "|" + rec.JTIHash
	if _, exists := m.assertionSeen[key]; exists {
		return errAlreadyExists
	}
	m.assertionSeen[key] = struct{}{}
	return nil
}

// --- Client registration ---

func clientRegKey(pluginName, clientID string) string { return pluginName + "|" + clientID }

func (m *MemoryStore) InsertClientRegistration(_ context.Context, rec *ClientRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now()
	cp := *rec
	m.clientRegs[clientRegKey(rec.PluginName, rec.ClientID)] = &cp
	return nil
}

func (m *MemoryStore) FindClientRegistration(_ context.Context, pluginName, clientID string) (*ClientRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.clientRegs[clientRegKey(pluginName, clientID)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateClientRegistrationToken(_ context.Context, pluginName, clientID, managementTokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.clientRegs[clientRegKey(pluginName, clientID)]; ok {
		r.ManagementTokenID = managementTokenID
	}
	return nil
}

func (m *MemoryStore) DeleteClientRegistration(_ context.Context, pluginName, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clientRegs, clientRegKey(pluginName, clientID))
	return nil
}

// --- RAR consent ---

func rarKey(pluginName, username, clientID, typ string) string {
	return pluginName + "|" + username + "|" + clientID + "|" + typ
}

func (m *MemoryStore) FindRARConsent(_ context.Context, pluginName, username, clientID, typ string) (*RARConsent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rarConsents[rarKey(pluginName, username, clientID, typ)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpsertRARConsent(_ context.Context, rec *RARConsent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now()
	cp := *rec
	m.rarConsents[rarKey(rec.PluginName, rec.Username, rec.ClientID, rec.Type)] = &cp
	return nil
}

func (m *MemoryStore) DeleteRARConsent(_ context.Context, pluginName, username, clientID, typ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rarConsents, rarKey(pluginName, username, clientID, typ))
	return nil
}

var _ Store = (*MemoryStore)(nil)
