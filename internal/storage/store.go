package storage

import (
	"context"
	"errors"
	"time"

	"modelwatch/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListOutcomesParams contains parameters for listing probe outcomes.
// Since is inclusive; a zero Limit means no limit. Results are returned in
// ascending tested_at order unless Descending is set.
type ListOutcomesParams struct {
	ModelID    string
	Since      *time.Time
	Limit      int
	Descending bool
}

// Storer defines the interface for persistence of the model registry, the
// probe-outcome ledger, and per-model notification state.
//
// The outcome ledger is append-only: only the retry gate writes to it, and
// records are never updated. PurgeOutcomesBefore is the single exception,
// reserved for the retention sweep.
type Storer interface {
	UpsertModel(ctx context.Context, m *models.Model) error
	GetModelByID(ctx context.Context, id string) (*models.Model, error)
	ListModels(ctx context.Context) ([]models.Model, error)
	ListEnabledModels(ctx context.Context) ([]models.Model, error)

	AppendOutcome(ctx context.Context, o *models.Outcome) error
	ListOutcomes(ctx context.Context, params ListOutcomesParams) ([]models.Outcome, error)
	LastFailure(ctx context.Context, modelID string) (*models.Outcome, error)
	PurgeOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetNotificationState(ctx context.Context, modelID string) (*models.NotificationState, error)
	SetNotificationState(ctx context.Context, state *models.NotificationState) error
}
