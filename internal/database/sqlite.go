package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filegate/internal/gate"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the gate.Store interface on SQLite. All per-user
// writes are single-row upserts, which keeps them atomic without explicit
// transactions.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a store at path (":memory:" for in-memory).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing connection. The caller is
// responsible for the connection's configuration and lifetime.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection. Exported for
// tools and tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Request handling is concurrent; WAL plus a busy timeout keeps writer
	// contention from surfacing as immediate SQLITE_BUSY errors.
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// User operations

func (s *SQLiteStore) UserState(userID int64) (*gate.UserState, error) {
	state := &gate.UserState{UserID: userID}

	var banned bool
	err := s.db.QueryRow("SELECT banned FROM users WHERE user_id = ?", userID).Scan(&banned)
	if errors.Is(err, sql.ErrNoRows) {
		// First contact: create the document with defaults.
		_, err = s.db.Exec(
			"INSERT INTO users (user_id, created_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING",
			userID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("creating user %d: %w", userID, err)
		}
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}

	state.Banned = banned
	return state, nil
}

func (s *SQLiteStore) SetBanned(userID int64, banned bool) error {
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, banned, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET banned = excluded.banned`,
		userID, banned, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting ban flag for %d: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) CountUsers() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// Verification operations

func (s *SQLiteStore) VerificationState(userID int64) (*gate.VerificationState, error) {
	var (
		state      gate.VerificationState
		verifiedAt sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT is_verified, verified_at, pending_token, pending_address
		FROM users WHERE user_id = ?`, userID).
		Scan(&state.Verified, &verifiedAt, &state.PendingToken, &state.PendingAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return &gate.VerificationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading verification state for %d: %w", userID, err)
	}
	if verifiedAt.Valid {
		state.VerifiedAt = verifiedAt.Time
	}
	return &state, nil
}

func (s *SQLiteStore) SaveVerificationState(userID int64, state *gate.VerificationState) error {
	var verifiedAt sql.NullTime
	if !state.VerifiedAt.IsZero() {
		verifiedAt = sql.NullTime{Time: state.VerifiedAt.UTC(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, is_verified, verified_at, pending_token, pending_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			is_verified = excluded.is_verified,
			verified_at = excluded.verified_at,
			pending_token = excluded.pending_token,
			pending_address = excluded.pending_address`,
		userID, state.Verified, verifiedAt, state.PendingToken, state.PendingAddress, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving verification state for %d: %w", userID, err)
	}
	return nil
}

// Entitlement operations

func (s *SQLiteStore) Entitlement(userID int64) (*gate.Entitlement, error) {
	var expiresAt sql.NullTime
	err := s.db.QueryRow("SELECT expires_at FROM entitlements WHERE user_id = ?", userID).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("loading entitlement for %d: %w", userID, err)
	}

	ent := &gate.Entitlement{UserID: userID}
	if expiresAt.Valid {
		t := expiresAt.Time
		ent.ExpiresAt = &t
	}
	return ent, nil
}

func (s *SQLiteStore) SaveEntitlement(userID int64, expiresAt *time.Time) error {
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO entitlements (user_id, expires_at, granted_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET expires_at = excluded.expires_at`,
		userID, expiry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving entitlement for %d: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteEntitlement(userID int64) (bool, error) {
	res, err := s.db.Exec("DELETE FROM entitlements WHERE user_id = ?", userID)
	if err != nil {
		return false, fmt.Errorf("deleting entitlement for %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting entitlement for %d: %w", userID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListEntitlements() ([]*gate.Entitlement, error) {
	rows, err := s.db.Query("SELECT user_id, expires_at FROM entitlements ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("listing entitlements: %w", err)
	}
	defer rows.Close()

	var ents []*gate.Entitlement
	for rows.Next() {
		var (
			ent       gate.Entitlement
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&ent.UserID, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning entitlement: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			ent.ExpiresAt = &t
		}
		ents = append(ents, &ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing entitlements: %w", err)
	}
	return ents, nil
}

func (s *SQLiteStore) ExpiredEntitlements(now time.Time) ([]int64, error) {
	rows, err := s.db.Query(
		"SELECT user_id FROM entitlements WHERE expires_at IS NOT NULL AND expires_at < ? ORDER BY user_id",
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expired entitlements: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired entitlement: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing expired entitlements: %w", err)
	}
	return userIDs, nil
}

// Join-request ledger

func (s *SQLiteStore) RecordJoinRequest(channelID, userID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO join_requests (channel_id, user_id, requested_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id, user_id) DO NOTHING`,
		channelID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording join request (%d, %d): %w", channelID, userID, err)
	}
	return nil
}

func (s *SQLiteStore) HasJoinRequest(channelID, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM join_requests WHERE channel_id = ? AND user_id = ?",
		channelID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking join request (%d, %d): %w", channelID, userID, err)
	}
	return true, nil
}

// Daily counters

func (s *SQLiteStore) IncrementCounter(day, name string) error {
	_, err := s.db.Exec(`
		INSERT INTO daily_counters (day, name, count) VALUES (?, ?, 1)
		ON CONFLICT(day, name) DO UPDATE SET count = count + 1`,
		day, name)
	if err != nil {
		return fmt.Errorf("incrementing counter %s/%s: %w", day, name, err)
	}
	return nil
}

func (s *SQLiteStore) Counter(day, name string) (int64, error) {
	var count int64
	err := s.db.QueryRow(
		"SELECT count FROM daily_counters WHERE day = ? AND name = ?", day, name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter %s/%s: %w", day, name, err)
	}
	return count, nil
}

func (s *SQLiteStore) DeleteCountersBefore(day string) error {
	_, err := s.db.Exec("DELETE FROM daily_counters WHERE day < ?", day)
	if err != nil {
		return fmt.Errorf("deleting counters before %s: %w", day, err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteStore implements the gate.Store interface
var _ gate.Store = (*SQLiteStore)(nil)
