package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelwatch/internal/models"
	"modelwatch/internal/storage"
)

// MemoryStore is an in-memory implementation of the storage.Storer interface.
// It backs component tests and ephemeral runs where no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	models   map[string]models.Model // keyed by opaque id
	outcomes map[string][]models.Outcome
	states   map[string]models.NotificationState
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		models:   make(map[string]models.Model),
		outcomes: make(map[string][]models.Outcome),
		states:   make(map[string]models.NotificationState),
	}
}

// UpsertModel implements the Storer interface.
func (s *MemoryStore) UpsertModel(ctx context.Context, m *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.models {
		if existing.ModelID == m.ModelID {
			m.ID = id
			m.CreatedAt = existing.CreatedAt
			s.models[id] = *m
			return nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.models[m.ID] = *m
	return nil
}

// GetModelByID implements the Storer interface.
func (s *MemoryStore) GetModelByID(ctx context.Context, id string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.models[id]; ok {
		return &m, nil
	}
	return nil, storage.ErrNotFound
}

// ListModels implements the Storer interface.
func (s *MemoryStore) ListModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(false), nil
}

// ListEnabledModels implements the Storer interface.
func (s *MemoryStore) ListEnabledModels(ctx context.Context) ([]models.Model, error) {
	return s.listModels(true), nil
}

func (s *MemoryStore) listModels(enabledOnly bool) []models.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Model
	for _, m := range s.models {
		if enabledOnly && !m.Enabled {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// AppendOutcome implements the Storer interface.
func (s *MemoryStore) AppendOutcome(ctx context.Context, o *models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	s.outcomes[o.ModelID] = append(s.outcomes[o.ModelID], *o)
	return nil
}

// ListOutcomes implements the Storer interface.
func (s *MemoryStore) ListOutcomes(ctx context.Context, params storage.ListOutcomesParams) ([]models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Outcome
	for _, o := range s.outcomes[params.ModelID] {
		if params.Since != nil && o.TestedAt.Before(*params.Since) {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		if params.Descending {
			return result[i].TestedAt.After(result[j].TestedAt)
		}
		return result[i].TestedAt.Before(result[j].TestedAt)
	})
	if params.Limit > 0 && len(result) > params.Limit {
		result = result[:params.Limit]
	}
	return result, nil
}

// LastFailure implements the Storer interface.
func (s *MemoryStore) LastFailure(ctx context.Context, modelID string) (*models.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *models.Outcome
	for i := range s.outcomes[modelID] {
		o := s.outcomes[modelID][i]
		if o.Success {
			continue
		}
		if last == nil || o.TestedAt.After(last.TestedAt) {
			last = &o
		}
	}
	if last == nil {
		return nil, storage.ErrNotFound
	}
	out := *last
	return &out, nil
}

// PurgeOutcomesBefore implements the Storer interface.
func (s *MemoryStore) PurgeOutcomesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, list := range s.outcomes {
		kept := list[:0]
		for _, o := range list {
			if o.TestedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, o)
		}
		s.outcomes[id] = kept
	}
	return purged, nil
}

// GetNotificationState implements the Storer interface.
func (s *MemoryStore) GetNotificationState(ctx context.Context, modelID string) (*models.NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.states[modelID]; ok {
		return &st, nil
	}
	return nil, storage.ErrNotFound
}

// SetNotificationState implements the Storer interface.
func (s *MemoryStore) SetNotificationState(ctx context.Context, state *models.NotificationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.ModelID] = *state
	return nil
}
