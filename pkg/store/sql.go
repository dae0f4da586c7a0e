// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	// Drivers registered for the two relational dialects the pack carries.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore is the relational backend, covering the Postgres and SQLite
// dialects. The two diverge only on timestamp literals
// and bind-parameter syntax; sqlx.DB.Rebind absorbs the latter, and every
// timestamp is stored and compared as a Unix-second integer so no
// NOW()-relative literal is ever needed.
//
// The one deliberately misspelled column from the requirements
// (gpoctr_cient_id) is preserved verbatim on the authorization_codes table
// for wire/schema compatibility; it is never exposed through the Store API
// (AuthorizationCode.ClientID stays correctly spelled in Go).
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLStore opens db (already connected) against dialect and ensures the
// schema exists.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("store: unsupported SQL dialect %q (see DESIGN.md)", dialect)
	}
	driverName := "postgres"
	if dialect == DialectSQLite {
		driverName = "sqlite"
	}
	sx := sqlx.NewDb(db, driverName)
	s := &SQLStore{db: sx, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func schemaStatements(d Dialect) []string {
	// BOOLEAN and BIGINT are valid in both Postgres and SQLite, so only the
	// id column varies per dialect today; d stays a parameter for when a
	// future dialect diverges further.
	idColumn := "TEXT PRIMARY KEY"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS authorization_codes (
			id %s, plugin_name TEXT NOT NULL, username TEXT, gpoctr_cient_id TEXT NOT NULL,
			redirect_uri TEXT, code_hash TEXT NOT NULL, issued_for TEXT, user_agent TEXT,
			nonce TEXT, resource_uri TEXT, claims_request TEXT, auth_details TEXT,
			flow_code BOOLEAN, flow_token BOOLEAN, flow_id_token BOOLEAN,
			expires_at BIGINT NOT NULL, code_challenge TEXT, code_challenge_method TEXT,
			enabled BOOLEAN NOT NULL, scopes TEXT, amr TEXT, created_at BIGINT NOT NULL
		)`, idColumn),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_codes_hash ON authorization_codes(plugin_name, code_hash)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id %s, plugin_name TEXT NOT NULL, parent_code_id TEXT, username TEXT,
			client_id TEXT NOT NULL, token_hash TEXT NOT NULL, jti TEXT, scopes TEXT,
			resource TEXT, claims_request TEXT, auth_details TEXT, jkt TEXT, x5t_s256 TEXT,
			rolling BOOLEAN, duration_seconds BIGINT, issued_at BIGINT, last_seen_at BIGINT,
			expires_at BIGINT, enabled BOOLEAN NOT NULL
		)`, idColumn),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_refresh_hash ON refresh_tokens(plugin_name, token_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_jti ON refresh_tokens(plugin_name, jti)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS access_tokens (
			id %s, plugin_name TEXT NOT NULL, authorize_type TEXT, parent_refresh_id TEXT,
			username TEXT, client_id TEXT, scopes TEXT, resource TEXT, hash TEXT NOT NULL,
			jti TEXT, auth_details TEXT, issued_at BIGINT, expires_at BIGINT, enabled BOOLEAN NOT NULL
		)`, idColumn),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_access_hash ON access_tokens(plugin_name, hash)`,

		`CREATE TABLE IF NOT EXISTS id_tokens (
			plugin_name TEXT NOT NULL, username TEXT, client_id TEXT, hash TEXT NOT NULL,
			issued_at BIGINT, expires_at BIGINT
		)`,

		`CREATE TABLE IF NOT EXISTS subject_identifiers (
			plugin_name TEXT NOT NULL, username TEXT NOT NULL, client_or_sector TEXT NOT NULL,
			sub TEXT NOT NULL, created_at BIGINT,
			PRIMARY KEY (plugin_name, username, client_or_sector)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS device_authorizations (
			id %s, plugin_name TEXT NOT NULL, device_code_hash TEXT NOT NULL,
			user_code_hash TEXT NOT NULL, client_id TEXT, scopes TEXT, resource TEXT,
			auth_details TEXT, status INTEGER, username TEXT, amr TEXT,
			last_poll_at BIGINT, interval_seconds BIGINT, expires_at BIGINT, created_at BIGINT
		)`, idColumn),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_device_dev_hash ON device_authorizations(plugin_name, device_code_hash)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_device_user_hash ON device_authorizations(plugin_name, user_code_hash)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pushed_authorization_requests (
			id %s, plugin_name TEXT NOT NULL, request_uri_raw TEXT, request_uri_hash TEXT NOT NULL,
			params TEXT, status INTEGER, client_id TEXT, expires_at BIGINT, created_at BIGINT
		)`, idColumn),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_par_hash ON pushed_authorization_requests(plugin_name, request_uri_hash)`,

		`CREATE TABLE IF NOT EXISTS dpop_jtis (
			plugin_name TEXT NOT NULL, client_id TEXT NOT NULL, jti_hash TEXT NOT NULL,
			jkt TEXT, htm TEXT, htu TEXT, issued_at BIGINT, seen_at BIGINT,
			PRIMARY KEY (plugin_name, client_id, jti_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS client_assertion_jtis (
			plugin_name TEXT NOT NULL, client_id TEXT NOT NULL, jti_hash TEXT NOT NULL, seen_at BIGINT,
			PRIMARY KEY (plugin_name, client_id, jti_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS client_registrations (
			plugin_name TEXT NOT NULL, client_id TEXT NOT NULL, management_token_id TEXT,
			initial_access_id TEXT, created_at BIGINT,
			PRIMARY KEY (plugin_name, client_id)
		)`,

		`CREATE TABLE IF NOT EXISTS rar_consents (
			plugin_name TEXT NOT NULL, username TEXT NOT NULL, client_id TEXT NOT NULL,
			type TEXT NOT NULL, enabled BOOLEAN, consent BOOLEAN, updated_at BIGINT,
			PRIMARY KEY (plugin_name, username, client_id, type)
		)`,
	}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func joinScopes(scopes []string) string   { return strings.Join(scopes, " ") }
func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// --- Authorization codes ---

func (s *SQLStore) InsertAuthorizationCode(ctx context.Context, rec *AuthorizationCode) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	rec.Enabled = true
	q := s.db.Rebind(`INSERT INTO authorization_codes
		(id, plugin_name, username, gpoctr_cient_id, redirect_uri, code_hash, issued_for, user_agent,
		 nonce, resource_uri, claims_request, auth_details, flow_code, flow_token, flow_id_token,
		 expires_at, code_challenge, code_challenge_method, enabled, scopes, amr, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.PluginName, rec.Username, rec.ClientID, rec.RedirectURI, rec.CodeHash, rec.IssuedFor,
		rec.UserAgent, rec.Nonce, rec.ResourceURI, rec.ClaimsRequest, rec.AuthDetails,
		rec.FlowTypes.Code, rec.FlowTypes.Token, rec.FlowTypes.IDToken,
		unixOrZero(rec.ExpiresAt), rec.CodeChallenge, rec.CodeChallengeM, rec.Enabled,
		joinScopes(rec.Scopes), joinScopes(rec.AMR), unixOrZero(rec.CreatedAt))
	return err
}

type authCodeRow struct {
	ID             string `db:"id"`
	PluginName     string `db:"plugin_name"`
	Username       string `db:"username"`
	ClientID       string `db:"gpoctr_cient_id"`
	RedirectURI    string `db:"redirect_uri"`
	CodeHash       string `db:"code_hash"`
	IssuedFor      string `db:"issued_for"`
	UserAgent      string `db:"user_agent"`
	Nonce          string `db:"nonce"`
	ResourceURI    string `db:"resource_uri"`
	ClaimsRequest  string `db:"claims_request"`
	AuthDetails    string `db:"auth_details"`
	FlowCode       bool   `db:"flow_code"`
	FlowToken      bool   `db:"flow_token"`
	FlowIDToken    bool   `db:"flow_id_token"`
	ExpiresAt      int64  `db:"expires_at"`
	CodeChallenge  string `db:"code_challenge"`
	CodeChallengeM string `db:"code_challenge_method"`
	Enabled        bool   `db:"enabled"`
	Scopes         string `db:"scopes"`
	AMR            string `db:"amr"`
	CreatedAt      int64  `db:"created_at"`
}

func (r authCodeRow) toDomain() *AuthorizationCode {
	return &AuthorizationCode{
		ID: r.ID, PluginName: r.PluginName, Username: r.Username, ClientID: r.ClientID,
		RedirectURI: r.RedirectURI, CodeHash: r.CodeHash, IssuedFor: r.IssuedFor, UserAgent: r.UserAgent,
		Nonce: r.Nonce, ResourceURI: r.ResourceURI, ClaimsRequest: r.ClaimsRequest, AuthDetails: r.AuthDetails,
		FlowTypes:      FlowTypeFlags{Code: r.FlowCode, Token: r.FlowToken, IDToken: r.FlowIDToken},
		ExpiresAt:      timeFromUnix(r.ExpiresAt),
		CodeChallenge:  r.CodeChallenge,
		CodeChallengeM: r.CodeChallengeM,
		Enabled:        r.Enabled,
		Scopes:         splitScopes(r.Scopes),
		AMR:            splitScopes(r.AMR),
		CreatedAt:      timeFromUnix(r.CreatedAt),
	}
}

func (s *SQLStore) FindAuthorizationCodeByHash(ctx context.Context, pluginName, hash string) (*AuthorizationCode, error) {
	var row authCodeRow
	q := s.db.Rebind(`SELECT * FROM authorization_codes WHERE plugin_name = ? AND code_hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) DisableAuthorizationCode(ctx context.Context, pluginName, id string) error {
	q := s.db.Rebind(`UPDATE authorization_codes SET enabled = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, id)
	return err
}

func (s *SQLStore) DisableDescendantsOfCode(ctx context.Context, pluginName, codeID string) error {
	q := s.db.Rebind(`UPDATE refresh_tokens SET enabled = ? WHERE plugin_name = ? AND parent_code_id = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, codeID)
	return err
}

// --- Refresh tokens ---

func (s *SQLStore) InsertRefreshToken(ctx context.Context, rec *RefreshToken) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IssuedAt = time.Now()
	rec.Enabled = true
	q := s.db.Rebind(`INSERT INTO refresh_tokens
		(id, plugin_name, parent_code_id, username, client_id, token_hash, jti, scopes, resource,
		 claims_request, auth_details, jkt, x5t_s256, rolling, duration_seconds, issued_at, last_seen_at,
		 expires_at, enabled)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.PluginName, rec.ParentCodeID, rec.Username, rec.ClientID, rec.TokenHash, rec.JTI,
		joinScopes(rec.Scopes), rec.Resource, rec.ClaimsRequest, rec.AuthDetails, rec.JKT, rec.X5TS256,
		rec.Rolling, int64(rec.Duration.Seconds()), unixOrZero(rec.IssuedAt), unixOrZero(rec.LastSeenAt),
		unixOrZero(rec.ExpiresAt), rec.Enabled)
	return err
}

type refreshRow struct {
	ID            string  `db:"id"`
	PluginName    string  `db:"plugin_name"`
	ParentCodeID  string  `db:"parent_code_id"`
	Username      string  `db:"username"`
	ClientID      string  `db:"client_id"`
	TokenHash     string  `db:"token_hash"`
	JTI           string  `db:"jti"`
	Scopes        string  `db:"scopes"`
	Resource      string  `db:"resource"`
	ClaimsRequest string  `db:"claims_request"`
	AuthDetails   string  `db:"auth_details"`
	JKT           string  `db:"jkt"`
	X5TS256       string  `db:"x5t_s256"`
	Rolling       bool    `db:"rolling"`
	DurationSec   int64   `db:"duration_seconds"`
	IssuedAt      int64   `db:"issued_at"`
	LastSeenAt    int64   `db:"last_seen_at"`
	ExpiresAt     int64   `db:"expires_at"`
	Enabled       bool    `db:"enabled"`
}

func (r refreshRow) toDomain() *RefreshToken {
	return &RefreshToken{
		ID: r.ID, PluginName: r.PluginName, ParentCodeID: r.ParentCodeID, Username: r.Username,
		ClientID: r.ClientID, TokenHash: r.TokenHash, JTI: r.JTI, Scopes: splitScopes(r.Scopes),
		Resource: r.Resource, ClaimsRequest: r.ClaimsRequest, AuthDetails: r.AuthDetails,
		JKT: r.JKT, X5TS256: r.X5TS256, Rolling: r.Rolling, Duration: time.Duration(r.DurationSec) * time.Second,
		IssuedAt: timeFromUnix(r.IssuedAt), LastSeenAt: timeFromUnix(r.LastSeenAt),
		ExpiresAt: timeFromUnix(r.ExpiresAt), Enabled: r.Enabled,
	}
}

func (s *SQLStore) FindRefreshTokenByHash(ctx context.Context, pluginName, hash string) (*RefreshToken, error) {
	var row refreshRow
	q := s.db.Rebind(`SELECT * FROM refresh_tokens WHERE plugin_name = ? AND token_hash = ? AND enabled = ? AND expires_at > ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash, true, time.Now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) FindRefreshTokenByHashAny(ctx context.Context, pluginName, hash string) (*RefreshToken, error) {
	var row refreshRow
	q := s.db.Rebind(`SELECT * FROM refresh_tokens WHERE plugin_name = ? AND token_hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) DisableRefreshToken(ctx context.Context, pluginName, id string) error {
	q := s.db.Rebind(`UPDATE refresh_tokens SET enabled = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, id)
	return err
}

func (s *SQLStore) DisableRefreshTokensByJTI(ctx context.Context, pluginName, jti string) error {
	q := s.db.Rebind(`UPDATE refresh_tokens SET enabled = ? WHERE plugin_name = ? AND jti = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, jti)
	return err
}

func (s *SQLStore) UpdateRefreshTokenLastSeen(ctx context.Context, pluginName, id string, lastSeen, expiresAt time.Time) error {
	q := s.db.Rebind(`UPDATE refresh_tokens SET last_seen_at = ?, expires_at = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, lastSeen.Unix(), expiresAt.Unix(), pluginName, id)
	return err
}

func (s *SQLStore) ListRefreshTokens(ctx context.Context, pluginName string, filter RefreshTokenFilter) ([]*RefreshToken, error) {
	query := `SELECT * FROM refresh_tokens WHERE plugin_name = ? AND enabled = ?`
	args := []any{pluginName, true}
	if filter.Username != "" {
		query += ` AND username = ?`
		args = append(args, filter.Username)
	}
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	orderCol := "issued_at"
	if filter.SortBy == "last_seen_at" {
		orderCol = "last_seen_at"
	}
	query += " ORDER BY " + orderCol
	if filter.Descending {
		query += " DESC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []refreshRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]*RefreshToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- Access tokens ---

func (s *SQLStore) InsertAccessToken(ctx context.Context, rec *AccessTokenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.IssuedAt = time.Now()
	rec.Enabled = true
	q := s.db.Rebind(`INSERT INTO access_tokens
		(id, plugin_name, authorize_type, parent_refresh_id, username, client_id, scopes, resource,
		 hash, jti, auth_details, issued_at, expires_at, enabled)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.PluginName, rec.AuthorizeType, rec.ParentRefreshID, rec.Username, rec.ClientID,
		joinScopes(rec.Scopes), rec.Resource, rec.Hash, rec.JTI, rec.AuthDetails,
		unixOrZero(rec.IssuedAt), unixOrZero(rec.ExpiresAt), rec.Enabled)
	return err
}

type accessRow struct {
	ID              string `db:"id"`
	PluginName      string `db:"plugin_name"`
	AuthorizeType   string `db:"authorize_type"`
	ParentRefreshID string `db:"parent_refresh_id"`
	Username        string `db:"username"`
	ClientID        string `db:"client_id"`
	Scopes          string `db:"scopes"`
	Resource        string `db:"resource"`
	Hash            string `db:"hash"`
	JTI             string `db:"jti"`
	AuthDetails     string `db:"auth_details"`
	IssuedAt        int64  `db:"issued_at"`
	ExpiresAt       int64  `db:"expires_at"`
	Enabled         bool   `db:"enabled"`
}

func (r accessRow) toDomain() *AccessTokenRecord {
	return &AccessTokenRecord{
		ID: r.ID, PluginName: r.PluginName, AuthorizeType: r.AuthorizeType, ParentRefreshID: r.ParentRefreshID,
		Username: r.Username, ClientID: r.ClientID, Scopes: splitScopes(r.Scopes), Resource: r.Resource,
		Hash: r.Hash, JTI: r.JTI, AuthDetails: r.AuthDetails,
		IssuedAt: timeFromUnix(r.IssuedAt), ExpiresAt: timeFromUnix(r.ExpiresAt), Enabled: r.Enabled,
	}
}

func (s *SQLStore) FindAccessTokenByHash(ctx context.Context, pluginName, hash string) (*AccessTokenRecord, error) {
	var row accessRow
	q := s.db.Rebind(`SELECT * FROM access_tokens WHERE plugin_name = ? AND hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) DisableAccessToken(ctx context.Context, pluginName, id string) error {
	q := s.db.Rebind(`UPDATE access_tokens SET enabled = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, id)
	return err
}

func (s *SQLStore) DisableAccessTokensByRefreshID(ctx context.Context, pluginName, refreshID string) error {
	q := s.db.Rebind(`UPDATE access_tokens SET enabled = ? WHERE plugin_name = ? AND parent_refresh_id = ?`)
	_, err := s.db.ExecContext(ctx, q, false, pluginName, refreshID)
	return err
}

// --- ID tokens ---

func (s *SQLStore) InsertIDToken(ctx context.Context, rec *IDTokenRecord) error {
	rec.IssuedAt = time.Now()
	q := s.db.Rebind(`INSERT INTO id_tokens (plugin_name, username, client_id, hash, issued_at, expires_at)
		VALUES (?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.Username, rec.ClientID, rec.Hash,
		unixOrZero(rec.IssuedAt), unixOrZero(rec.ExpiresAt))
	return err
}

func (s *SQLStore) LastIDTokenFor(ctx context.Context, pluginName, clientID, username string) (*IDTokenRecord, error) {
	var row struct {
		PluginName string `db:"plugin_name"`
		Username   string `db:"username"`
		ClientID   string `db:"client_id"`
		Hash       string `db:"hash"`
		IssuedAt   int64  `db:"issued_at"`
		ExpiresAt  int64  `db:"expires_at"`
	}
	q := s.db.Rebind(`SELECT * FROM id_tokens WHERE plugin_name = ? AND client_id = ? AND username = ?
		ORDER BY issued_at DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &row, q, pluginName, clientID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &IDTokenRecord{
		PluginName: row.PluginName, Username: row.Username, ClientID: row.ClientID, Hash: row.Hash,
		IssuedAt: timeFromUnix(row.IssuedAt), ExpiresAt: timeFromUnix(row.ExpiresAt),
	}, nil
}

func (s *SQLStore) DeleteIDTokenByHash(ctx context.Context, pluginName, hash string) (bool, error) {
	q := s.db.Rebind(`DELETE FROM id_tokens WHERE plugin_name = ? AND hash = ?`)
	res, err := s.db.ExecContext(ctx, q, pluginName, hash)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Subject identifiers ---

func (s *SQLStore) FindSubjectIdentifier(ctx context.Context, pluginName, username, clientOrSector string) (*SubjectIdentifier, error) {
	var row struct {
		PluginName     string `db:"plugin_name"`
		Username       string `db:"username"`
		ClientOrSector string `db:"client_or_sector"`
		Sub            string `db:"sub"`
		CreatedAt      int64  `db:"created_at"`
	}
	q := s.db.Rebind(`SELECT * FROM subject_identifiers WHERE plugin_name = ? AND username = ? AND client_or_sector = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, username, clientOrSector)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &SubjectIdentifier{
		PluginName: row.PluginName, Username: row.Username, ClientOrSector: row.ClientOrSector,
		Sub: row.Sub, CreatedAt: timeFromUnix(row.CreatedAt),
	}, nil
}

func (s *SQLStore) InsertSubjectIdentifier(ctx context.Context, rec *SubjectIdentifier) error {
	rec.CreatedAt = time.Now()
	q := s.db.Rebind(`INSERT INTO subject_identifiers (plugin_name, username, client_or_sector, sub, created_at)
		VALUES (?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.Username, rec.ClientOrSector, rec.Sub, rec.CreatedAt.Unix())
	return err
}

// --- Device authorization ---

func (s *SQLStore) InsertDeviceAuthorization(ctx context.Context, rec *DeviceAuthorization) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	q := s.db.Rebind(`INSERT INTO device_authorizations
		(id, plugin_name, device_code_hash, user_code_hash, client_id, scopes, resource, auth_details,
		 status, username, amr, last_poll_at, interval_seconds, expires_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.PluginName, rec.DeviceCodeHash, rec.UserCodeHash, rec.ClientID, joinScopes(rec.Scopes),
		rec.Resource, rec.AuthDetails, int(rec.Status), rec.Username, joinScopes(rec.AMR),
		unixOrZero(rec.LastPollAt), int64(rec.Interval.Seconds()), unixOrZero(rec.ExpiresAt), rec.CreatedAt.Unix())
	return err
}

type deviceRow struct {
	ID             string `db:"id"`
	PluginName     string `db:"plugin_name"`
	DeviceCodeHash string `db:"device_code_hash"`
	UserCodeHash   string `db:"user_code_hash"`
	ClientID       string `db:"client_id"`
	Scopes         string `db:"scopes"`
	Resource       string `db:"resource"`
	AuthDetails    string `db:"auth_details"`
	Status         int    `db:"status"`
	Username       string `db:"username"`
	AMR            string `db:"amr"`
	LastPollAt     int64  `db:"last_poll_at"`
	IntervalSec    int64  `db:"interval_seconds"`
	ExpiresAt      int64  `db:"expires_at"`
	CreatedAt      int64  `db:"created_at"`
}

func (r deviceRow) toDomain() *DeviceAuthorization {
	return &DeviceAuthorization{
		ID: r.ID, PluginName: r.PluginName, DeviceCodeHash: r.DeviceCodeHash, UserCodeHash: r.UserCodeHash,
		ClientID: r.ClientID, Scopes: splitScopes(r.Scopes), Resource: r.Resource, AuthDetails: r.AuthDetails,
		Status: DeviceStatus(r.Status), Username: r.Username, AMR: splitScopes(r.AMR),
		LastPollAt: timeFromUnix(r.LastPollAt), Interval: time.Duration(r.IntervalSec) * time.Second,
		ExpiresAt: timeFromUnix(r.ExpiresAt), CreatedAt: timeFromUnix(r.CreatedAt),
	}
}

func (s *SQLStore) FindDeviceAuthorizationByDeviceHash(ctx context.Context, pluginName, hash string) (*DeviceAuthorization, error) {
	var row deviceRow
	q := s.db.Rebind(`SELECT * FROM device_authorizations WHERE plugin_name = ? AND device_code_hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) FindDeviceAuthorizationByUserHash(ctx context.Context, pluginName, hash string) (*DeviceAuthorization, error) {
	var row deviceRow
	q := s.db.Rebind(`SELECT * FROM device_authorizations WHERE plugin_name = ? AND user_code_hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) UpdateDeviceStatus(ctx context.Context, pluginName, id string, status DeviceStatus, username string, amr []string) error {
	if username != "" {
		q := s.db.Rebind(`UPDATE device_authorizations SET status = ?, username = ?, amr = ? WHERE plugin_name = ? AND id = ?`)
		_, err := s.db.ExecContext(ctx, q, int(status), username, joinScopes(amr), pluginName, id)
		return err
	}
	q := s.db.Rebind(`UPDATE device_authorizations SET status = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, int(status), pluginName, id)
	return err
}

func (s *SQLStore) UpdateDeviceLastPoll(ctx context.Context, pluginName, id string, at time.Time) error {
	q := s.db.Rebind(`UPDATE device_authorizations SET last_poll_at = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, at.Unix(), pluginName, id)
	return err
}

// --- PAR ---

func (s *SQLStore) InsertPAR(ctx context.Context, rec *PushedAuthorizationRequest) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now()
	q := s.db.Rebind(`INSERT INTO pushed_authorization_requests
		(id, plugin_name, request_uri_raw, request_uri_hash, params, status, client_id, expires_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.PluginName, rec.RequestURIRaw, rec.RequestURIHash,
		rec.Params, int(rec.Status), rec.ClientID, unixOrZero(rec.ExpiresAt), rec.CreatedAt.Unix())
	return err
}

func (s *SQLStore) FindPARByHash(ctx context.Context, pluginName, hash string) (*PushedAuthorizationRequest, error) {
	var row struct {
		ID             string `db:"id"`
		PluginName     string `db:"plugin_name"`
		RequestURIRaw  string `db:"request_uri_raw"`
		RequestURIHash string `db:"request_uri_hash"`
		Params         string `db:"params"`
		Status         int    `db:"status"`
		ClientID       string `db:"client_id"`
		ExpiresAt      int64  `db:"expires_at"`
		CreatedAt      int64  `db:"created_at"`
	}
	q := s.db.Rebind(`SELECT * FROM pushed_authorization_requests WHERE plugin_name = ? AND request_uri_hash = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &PushedAuthorizationRequest{
		ID: row.ID, PluginName: row.PluginName, RequestURIRaw: row.RequestURIRaw, RequestURIHash: row.RequestURIHash,
		Params: row.Params, Status: PARStatus(row.Status), ClientID: row.ClientID,
		ExpiresAt: timeFromUnix(row.ExpiresAt), CreatedAt: timeFromUnix(row.CreatedAt),
	}, nil
}

func (s *SQLStore) UpdatePARStatus(ctx context.Context, pluginName, id string, status PARStatus) error {
	q := s.db.Rebind(`UPDATE pushed_authorization_requests SET status = ? WHERE plugin_name = ? AND id = ?`)
	_, err := s.db.ExecContext(ctx, q, int(status), pluginName, id)
	return err
}

// --- DPoP / client-assertion jti replay ---

func (s *SQLStore) InsertDPoPJTI(ctx context.Context, rec *DPoPJTI) error {
	rec.SeenAt = time.Now()
	q := s.db.Rebind(`INSERT INTO dpop_jtis (plugin_name, client_id, jti_hash, jkt, htm, htu, issued_at, seen_at)
		VALUES (?,?,?,?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.ClientID, rec.JTIHash, rec.JKT, rec.HTM, rec.HTU,
		unixOrZero(rec.IssuedAt), rec.SeenAt.Unix())
	return err
}

func (s *SQLStore) InsertClientAssertionJTI(ctx context.Context, rec *ClientAssertionJTI) error {
	rec.SeenAt = time.Now()
	q := s.db.Rebind(`INSERT INTO client_assertion_jtis (plugin_name, client_id, jti_hash, seen_at) VALUES (?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.ClientID, rec.JTIHash, rec.SeenAt.Unix())
	return err
}

// --- Client registration ---

func (s *SQLStore) InsertClientRegistration(ctx context.Context, rec *ClientRegistration) error {
	rec.CreatedAt = time.Now()
	q := s.db.Rebind(`INSERT INTO client_registrations
		(plugin_name, client_id, management_token_id, initial_access_id, created_at) VALUES (?,?,?,?,?)`)
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.ClientID, rec.ManagementTokenID, rec.InitialAccessID, rec.CreatedAt.Unix())
	return err
}

func (s *SQLStore) FindClientRegistration(ctx context.Context, pluginName, clientID string) (*ClientRegistration, error) {
	var row struct {
		PluginName        string `db:"plugin_name"`
		ClientID          string `db:"client_id"`
		ManagementTokenID string `db:"management_token_id"`
		InitialAccessID   string `db:"initial_access_id"`
		CreatedAt         int64  `db:"created_at"`
	}
	q := s.db.Rebind(`SELECT * FROM client_registrations WHERE plugin_name = ? AND client_id = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ClientRegistration{
		PluginName: row.PluginName, ClientID: row.ClientID, ManagementTokenID: row.ManagementTokenID,
		InitialAccessID: row.InitialAccessID, CreatedAt: timeFromUnix(row.CreatedAt),
	}, nil
}

func (s *SQLStore) UpdateClientRegistrationToken(ctx context.Context, pluginName, clientID, managementTokenID string) error {
	q := s.db.Rebind(`UPDATE client_registrations SET management_token_id = ? WHERE plugin_name = ? AND client_id = ?`)
	_, err := s.db.ExecContext(ctx, q, managementTokenID, pluginName, clientID)
	return err
}

func (s *SQLStore) DeleteClientRegistration(ctx context.Context, pluginName, clientID string) error {
	q := s.db.Rebind(`DELETE FROM client_registrations WHERE plugin_name = ? AND client_id = ?`)
	_, err := s.db.ExecContext(ctx, q, pluginName, clientID)
	return err
}

// --- RAR consent ---

func (s *SQLStore) FindRARConsent(ctx context.Context, pluginName, username, clientID, typ string) (*RARConsent, error) {
	var row struct {
		PluginName string `db:"plugin_name"`
		Username   string `db:"username"`
		ClientID   string `db:"client_id"`
		Type       string `db:"type"`
		Enabled    bool   `db:"enabled"`
		Consent    bool   `db:"consent"`
		UpdatedAt  int64  `db:"updated_at"`
	}
	q := s.db.Rebind(`SELECT * FROM rar_consents WHERE plugin_name = ? AND username = ? AND client_id = ? AND type = ?`)
	err := s.db.GetContext(ctx, &row, q, pluginName, username, clientID, typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &RARConsent{
		PluginName: row.PluginName, Username: row.Username, ClientID: row.ClientID, Type: row.Type,
		Enabled: row.Enabled, Consent: row.Consent, UpdatedAt: timeFromUnix(row.UpdatedAt),
	}, nil
}

func (s *SQLStore) UpsertRARConsent(ctx context.Context, rec *RARConsent) error {
	rec.UpdatedAt = time.Now()
	var q string
	switch s.dialect {
	case DialectPostgres:
		q = `INSERT INTO rar_consents (plugin_name, username, client_id, type, enabled, consent, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (plugin_name, username, client_id, type)
			DO UPDATE SET enabled = $5, consent = $6, updated_at = $7`
	default:
		q = s.db.Rebind(`INSERT INTO rar_consents (plugin_name, username, client_id, type, enabled, consent, updated_at)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (plugin_name, username, client_id, type)
			DO UPDATE SET enabled = excluded.enabled, consent = excluded.consent, updated_at = excluded.updated_at`)
	}
	_, err := s.db.ExecContext(ctx, q, rec.PluginName, rec.Username, rec.ClientID, rec.Type,
		rec.Enabled, rec.Consent, rec.UpdatedAt.Unix())
	return err
}

func (s *SQLStore) DeleteRARConsent(ctx context.Context, pluginName, username, clientID, typ string) error {
	q := s.db.Rebind(`DELETE FROM rar_consents WHERE plugin_name = ? AND username = ? AND client_id = ? AND type = ?`)
	_, err := s.db.ExecContext(ctx, q, pluginName, username, clientID, typ)
	return err
}

var _ Store = (*SQLStore)(nil)
