package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelwatch/internal/models"
	"modelwatch/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// migrate ensures the database schema is created.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitored_models (
		id            TEXT PRIMARY KEY,
		model_id      TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL,
		logo_url      TEXT NOT NULL DEFAULT '',
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_monitored_models_order ON monitored_models (display_order, created_at);

	CREATE TABLE IF NOT EXISTS probe_outcomes (
		id            TEXT PRIMARY KEY,
		model_id      TEXT NOT NULL REFERENCES monitored_models(id) ON DELETE CASCADE,
		tested_at     TIMESTAMPTZ NOT NULL,
		success       BOOLEAN NOT NULL,
		latency_ms    BIGINT,
		error_kind    TEXT NOT NULL DEFAULT '',
		error_code    INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_probe_outcomes_model_tested ON probe_outcomes (model_id, tested_at DESC);

	CREATE TABLE IF NOT EXISTS notification_state (
		model_id         TEXT PRIMARY KEY REFERENCES monitored_models(id) ON DELETE CASCADE,
		status           TEXT NOT NULL,
		last_notified_at TIMESTAMPTZ
	);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// UpsertModel implements the Storer interface.
func (s *PostgresStore) UpsertModel(ctx context.Context, m *models.Model) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO monitored_models (id, model_id, display_name, logo_url, enabled, display_order, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (model_id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		logo_url = EXCLUDED.logo_url,
		enabled = EXCLUDED.enabled,
		display_order = EXCLUDED.display_order`
	_, err := s.db.Exec(ctx, query, m.ID, m.ModelID, m.DisplayName, m.LogoURL, m.Enabled, m.DisplayOrder, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}
	return nil
}

// GetModelByID implements the Storer interface.
func (s *PostgresStore) GetModelByID(ctx context.Context, id string) (*models.Model, error) {
	query := `SELECT id, model_id, display_name, logo_url, enabled, display_order, created_at
	FROM monitored_models WHERE id = $1`
	var m models.Model
	err := s.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ModelID, &m.DisplayName, &m.LogoURL, &m.Enabled, &m.DisplayOrder, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

// ListModels implements the Storer interface.
func (s *PostgresStore) ListModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(ctx, false)
}

// ListEnabledModels implements the Storer interface.
func (s *PostgresStore) ListEnabledModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(ctx, true)
}

func (s *PostgresStore) listModels(ctx context.Context, enabledOnly bool) ([]models.Model, error) {
	query := `SELECT id, model_id, display_name, logo_url, enabled, display_order, created_at
	FROM monitored_models`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY display_order, created_at`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var result []models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.ModelID, &m.DisplayName, &m.LogoURL, &m.Enabled, &m.DisplayOrder, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// AppendOutcome implements the Storer interface.
func (s *PostgresStore) AppendOutcome(ctx context.Context, o *models.Outcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	query := `
	INSERT INTO probe_outcomes (id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.Exec(ctx, query,
		o.ID, o.ModelID, o.TestedAt, o.Success, o.LatencyMS, string(o.Kind), o.HTTPStatus, o.Message)
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

// ListOutcomes implements the Storer interface.
func (s *PostgresStore) ListOutcomes(ctx context.Context, params storage.ListOutcomesParams) ([]models.Outcome, error) {
	query := `SELECT id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message
	FROM probe_outcomes WHERE model_id = $1`
	args := []any{params.ModelID}
	if params.Since != nil {
		query += fmt.Sprintf(` AND tested_at >= $%d`, len(args)+1)
		args = append(args, *params.Since)
	}
	if params.Descending {
		query += ` ORDER BY tested_at DESC`
	} else {
		query += ` ORDER BY tested_at ASC`
	}
	if params.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, params.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var result []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var kind string
		if err := rows.Scan(&o.ID, &o.ModelID, &o.TestedAt, &o.Success, &o.LatencyMS, &kind, &o.HTTPStatus, &o.Message); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Kind = models.ErrorKind(kind)
		result = append(result, o)
	}
	return result, rows.Err()
}

// LastFailure implements the Storer interface.
func (s *PostgresStore) LastFailure(ctx context.Context, modelID string) (*models.Outcome, error) {
	query := `SELECT id, model_id, tested_at, success, latency_ms, error_kind, error_code, error_message
	FROM probe_outcomes WHERE model_id = $1 AND NOT success ORDER BY tested_at DESC LIMIT 1`
	var o models.Outcome
	var kind string
	err := s.db.QueryRow(ctx, query, modelID).Scan(
		&o.ID, &o.ModelID, &o.TestedAt, &o.Success, &o.LatencyMS, &kind, &o.HTTPStatus, &o.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last failure: %w", err)
	}
	o.Kind = models.ErrorKind(kind)
	return &o, nil
}

// PurgeOutcomesBefore implements the Storer interface.
func (s *PostgresStore) PurgeOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM probe_outcomes WHERE tested_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outcomes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetNotificationState implements the Storer interface.
func (s *PostgresStore) GetNotificationState(ctx context.Context, modelID string) (*models.NotificationState, error) {
	query := `SELECT model_id, status, last_notified_at FROM notification_state WHERE model_id = $1`
	var st models.NotificationState
	err := s.db.QueryRow(ctx, query, modelID).Scan(&st.ModelID, &st.Status, &st.LastNotifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification state: %w", err)
	}
	return &st, nil
}

// SetNotificationState implements the Storer interface.
func (s *PostgresStore) SetNotificationState(ctx context.Context, state *models.NotificationState) error {
	query := `
	INSERT INTO notification_state (model_id, status, last_notified_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (model_id) DO UPDATE SET status = EXCLUDED.status, last_notified_at = EXCLUDED.last_notified_at`
	_, err := s.db.Exec(ctx, query, state.ModelID, string(state.Status), state.LastNotifiedAt)
	if err != nil {
		return fmt.Errorf("failed to set notification state: %w", err)
	}
	return nil
}
