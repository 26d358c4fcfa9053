package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"modelwatch/internal/models"
	"modelwatch/internal/storage"
)

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS monitored_models (
	id            TEXT PRIMARY KEY,
	model_id      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	logo_url      TEXT NOT NULL DEFAULT '',
	enabled       INTEGER NOT NULL DEFAULT 1,
	display_order INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitored_models_order ON monitored_models (display_order, created_at);

CREATE TABLE IF NOT EXISTS probe_outcomes (
	id            TEXT PRIMARY KEY,
	model_id      TEXT NOT NULL,
	tested_at     INTEGER NOT NULL,
	success       INTEGER NOT NULL,
	latency_ms    INTEGER,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_code    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(model_id) REFERENCES monitored_models(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_probe_outcomes_model_tested ON probe_outcomes (model_id, tested_at DESC);

CREATE TABLE IF NOT EXISTS notification_state (
	model_id         TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	last_notified_at INTEGER,
	FOREIGN KEY(model_id) REFERENCES monitored_models(id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertModel inserts or updates a registry entry, keyed by the upstream
// model identifier.
func (s *SQLiteStore) UpsertModel(ctx context.Context, m *models.Model) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `
INSERT INTO monitored_models (id, model_id, display_name, logo_url, enabled, display_order, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(model_id) DO UPDATE SET
	display_name = excluded.display_name,
	logo_url = excluded.logo_url,
	enabled = excluded.enabled,
	display_order = excluded.display_order`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ModelID, m.DisplayName, m.LogoURL, boolToInt(m.Enabled), m.DisplayOrder, m.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}
	return nil
}

// GetModelByID returns one registry entry by opaque id.
func (s *SQLiteStore) GetModelByID(ctx context.Context, id string) (*models.Model, error) {
	query := `SELECT id, model_id, display_name, logo_url, enabled, display_order, created_at
FROM monitored_models WHERE id = ?`
	var m models.Model
	var enabled int
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ModelID, &m.DisplayName, &m.LogoURL, &enabled, &m.DisplayOrder, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	m.Enabled = enabled != 0
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}

// ListModels returns all registry entries in display order.
func (s *SQLiteStore) ListModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(ctx, false)
}

// ListEnabledModels returns the enabled registry entries in display order.
func (s *SQLiteStore) ListEnabledModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(ctx, true)
}

func (s *SQLiteStore) listModels(ctx context.Context, enabledOnly bool) ([]models.Model, error) {
	query := `SELECT id, model_id, display_name, logo_url, enabled, display_order, created_at
FROM monitored_models`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY display_order, created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var result []models.Model
	for rows.Next() {
		var m models.Model
		var enabled int
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ModelID, &m.DisplayName, &m.LogoURL, &enabled, &m.DisplayOrder, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		m.Enabled = enabled != 0
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		result = append(result, m)
	}
	return result, rows.Err()
}

// AppendOutcome writes one probe outcome to the ledger.
func (s *SQLiteStore) AppendOutcome(ctx context.Context, o *models.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	query := `
INSERT INTO probe_outcomes (id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.ModelID, o.TestedAt.UnixNano(), boolToInt(o.Success), o.LatencyMS, string(o.Kind), o.HTTPStatus, o.Message)
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns outcomes for a model, oldest first unless Descending.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, params storage.ListOutcomesParams) ([]models.Outcome, error) {
	query := `SELECT id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message
FROM probe_outcomes WHERE model_id = ?`
	args := []any{params.ModelID}
	if params.Since != nil {
		query += ` AND tested_at >= ?`
		args = append(args, params.Since.UnixNano())
	}
	if params.Descending {
		query += ` ORDER BY tested_at DESC`
	} else {
		query += ` ORDER BY tested_at ASC`
	}
	if params.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, params.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var result []models.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// LastFailure returns the most recent failed outcome for a model.
func (s *SQLiteStore) LastFailure(ctx context.Context, modelID string) (*models.Outcome, error) {
	query := `SELECT id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message
FROM probe_outcomes WHERE model_id = ? AND success = 0 ORDER BY tested_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, modelID)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return o, err
}

// PurgeOutcomesBefore deletes ledger records older than cutoff and reports
// how many were removed. Used only by the retention sweep.
func (s *SQLiteStore) PurgeOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_outcomes WHERE tested_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge outcomes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetNotificationState returns the alerting state for a model.
func (s *SQLiteStore) GetNotificationState(ctx context.Context, modelID string) (*models.NotificationState, error) {
	query := `SELECT model_id, status, last_notified_at FROM notification_state WHERE model_id = ?`
	var st models.NotificationState
	var lastNotified sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, modelID).Scan(&st.ModelID, &st.Status, &lastNotified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification state: %w", err)
	}
	if lastNotified.Valid {
		t := time.Unix(0, lastNotified.Int64).UTC()
		st.LastNotifiedAt = &t
	}
	return &st, nil
}

// SetNotificationState upserts the alerting state for a model.
func (s *SQLiteStore) SetNotificationState(ctx context.Context, state *models.NotificationState) error {
	var lastNotified any
	if state.LastNotifiedAt != nil {
		lastNotified = state.LastNotifiedAt.UnixNano()
	}
	query := `
INSERT INTO notification_state (model_id, status, last_notified_at)
VALUES (?, ?, ?)
ON CONFLICT(model_id) DO UPDATE SET status = excluded.status, last_notified_at = excluded.last_notified_at`
	_, err := s.db.ExecContext(ctx, query, state.ModelID, string(state.Status), lastNotified)
	if err != nil {
		return fmt.Errorf("failed to set notification state: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*models.Outcome, error) {
	var o models.Outcome
	var testedAt int64
	var success int
	var latency sql.NullInt64
	var kind string
	err := row.Scan(&o.ID, &o.ModelID, &testedAt, &success, &latency, &kind, &o.HTTPStatus, &o.Message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan outcome: %w", err)
	}
	o.TestedAt = time.Unix(0, testedAt).UTC()
	o.Success = success != 0
	if latency.Valid {
		ms := latency.Int64
		o.LatencyMS = &ms
	}
	o.Kind = models.ErrorKind(kind)
	return &o, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
