package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"modelwatch/internal/models"
	"modelwatch/internal/storage"
)

// Aggregator derives the read-side availability view from the outcome ledger.
// It is pure computation over committed outcomes: nothing is persisted and
// re-reading without new probes yields identical results.
type Aggregator struct {
	store storage.Storer
	clk   clock.Clock
	loc   *time.Location
}

// New creates an Aggregator computing hour boundaries in loc.
func New(store storage.Storer, clk clock.Clock, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, clk: clk, loc: loc}
}

// AllStats returns stats for every enabled model in display order.
func (a *Aggregator) AllStats(ctx context.Context) ([]models.ModelStats, error) {
	enabled, err := a.store.ListEnabledModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	result := make([]models.ModelStats, 0, len(enabled))
	for _, m := range enabled {
		st, err := a.ModelStats(ctx, m)
		if err != nil {
			return nil, err
		}
		result = append(result, *st)
	}
	return result, nil
}

// ModelStats computes the trailing-24h hourly slots, the four windowed rates,
// and the most recent error for one model.
func (a *Aggregator) ModelStats(ctx context.Context, m models.Model) (*models.ModelStats, error) {
	now := a.clk.Now().In(a.loc)
	since := now.Add(-30 * 24 * time.Hour).UTC()

	outcomes, err := a.store.ListOutcomes(ctx, storage.ListOutcomesParams{ModelID: m.ID, Since: &since})
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes for model %s: %w", m.ModelID, err)
	}

	slots := a.hourlySlots(outcomes, now)

	st := &models.ModelStats{
		ModelID:     m.ID,
		ModelName:   m.ModelID,
		DisplayName: m.DisplayName,
		LogoURL:     m.LogoURL,
		HourlySlots: slots,
		Rate1d:      slotRate(slots, outcomes, now),
		Rate3d:      probeRate(outcomes, now, 3),
		Rate7d:      probeRate(outcomes, now, 7),
		Rate30d:     probeRate(outcomes, now, 30),
	}

	lastFailure, err := a.store.LastFailure(ctx, m.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to get last failure for model %s: %w", m.ModelID, err)
	}
	if lastFailure != nil {
		code := lastFailure.HTTPStatus
		msg := lastFailure.Message
		st.LastErrorCode = &code
		st.LastErrorMessage = &msg
	}

	return st, nil
}

// hourlySlots buckets outcomes into the trailing 24 wall-clock hours, oldest
// first. A bucket with any failure is Failure regardless of successes in the
// same hour.
func (a *Aggregator) hourlySlots(outcomes []models.Outcome, now time.Time) []models.HourlySlot {
	currentHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, a.loc)

	slots := make([]models.HourlySlot, 0, 24)
	for i := 0; i < 24; i++ {
		start := currentHour.Add(-time.Duration(23-i) * time.Hour)
		end := start.Add(time.Hour)

		status := models.SlotNoData
		for _, o := range outcomes {
			t := o.TestedAt
			if t.Before(start) || !t.Before(end) {
				continue
			}
			if !o.Success {
				status = models.SlotFailure
				break
			}
			status = models.SlotSuccess
		}

		slots = append(slots, models.HourlySlot{Hour: start.Hour(), Start: start, Status: status})
	}
	return slots
}

// slotRate is the smoothed 1-day figure: Success slots over 24, not the raw
// probe ratio. Nil when the trailing day holds no probes at all.
func slotRate(slots []models.HourlySlot, outcomes []models.Outcome, now time.Time) *float64 {
	cutoff := now.Add(-24 * time.Hour)
	any := false
	for _, o := range outcomes {
		if !o.TestedAt.Before(cutoff) {
			any = true
			break
		}
	}
	if !any {
		return nil
	}

	success := 0
	for _, s := range slots {
		if s.Status == models.SlotSuccess {
			success++
		}
	}
	rate := round1(float64(success) / 24 * 100)
	return &rate
}

// probeRate is the raw success ratio over a trailing window of whole days.
// Nil when the window holds no probes.
func probeRate(outcomes []models.Outcome, now time.Time, days int) *float64 {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	total, success := 0, 0
	for _, o := range outcomes {
		if o.TestedAt.Before(cutoff) {
			continue
		}
		total++
		if o.Success {
			success++
		}
	}
	if total == 0 {
		return nil
	}
	rate := round1(float64(success) / float64(total) * 100)
	return &rate
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
