package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/benbjohnson/clock"

	"modelwatch/internal/models"
	"modelwatch/internal/storage"
)

// Options configures the dispatcher's gating policy.
type Options struct {
	Location         *time.Location
	QuietHoursStart  int  // local hour, inclusive
	QuietHoursEnd    int  // local hour, exclusive
	NotifyOnRecovery bool // whether Alerting->Healthy sends a recovery notice
	CustomText       string
}

// Dispatcher turns committed failure transitions into outbound notifications.
// It alerts only on the Healthy->Alerting edge, suppresses sends during quiet
// hours while still recording the state change, and fans out to every enabled
// channel even when one fails.
type Dispatcher struct {
	store    storage.Storer
	clk      clock.Clock
	opts     Options
	channels []Channel
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(store storage.Storer, clk clock.Clock, opts Options, channels ...Channel) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dispatcher{store: store, clk: clk, opts: opts, channels: channels}
}

// ConfirmedFailure handles a committed, retry-confirmed failure. The alert is
// sent once per outage: while the model is already Alerting nothing goes out.
func (d *Dispatcher) ConfirmedFailure(ctx context.Context, m models.Model, o *models.Outcome) {
	state := d.state(ctx, m.ID)
	if state.Status == models.StatusAlerting {
		return
	}

	now := d.clk.Now().In(d.opts.Location)
	state.Status = models.StatusAlerting

	suppressed := d.inQuietHours(now)
	if !suppressed {
		utc := now.UTC()
		state.LastNotifiedAt = &utc
	}
	if err := d.store.SetNotificationState(ctx, state); err != nil {
		log.Printf("error saving notification state for model %s: %v", m.ModelID, err)
	}

	if suppressed {
		log.Printf("alert for model %s suppressed (quiet hours)", m.ModelID)
		return
	}

	d.fanOut(ctx, Message{
		Event:        EventAlert,
		ModelName:    m.DisplayName,
		ModelID:      m.ModelID,
		ErrorCode:    o.HTTPStatus,
		ErrorMessage: o.Message,
		At:           now,
		CustomText:   d.opts.CustomText,
	})
}

// Recovered handles the first committed success after an outage. Depending on
// policy it sends a recovery notice; the state flips back to Healthy either
// way so a later failure alerts again.
func (d *Dispatcher) Recovered(ctx context.Context, m models.Model, o *models.Outcome) {
	state := d.state(ctx, m.ID)
	if state.Status != models.StatusAlerting {
		return
	}

	now := d.clk.Now().In(d.opts.Location)
	state.Status = models.StatusHealthy

	send := d.opts.NotifyOnRecovery && !d.inQuietHours(now)
	if send {
		utc := now.UTC()
		state.LastNotifiedAt = &utc
	}
	if err := d.store.SetNotificationState(ctx, state); err != nil {
		log.Printf("error saving notification state for model %s: %v", m.ModelID, err)
	}

	if !send {
		return
	}

	d.fanOut(ctx, Message{
		Event:      EventRecovery,
		ModelName:  m.DisplayName,
		ModelID:    m.ModelID,
		At:         now,
		CustomText: d.opts.CustomText,
	})
}

// fanOut delivers to every channel; a channel failure is logged, never
// escalated.
func (d *Dispatcher) fanOut(ctx context.Context, msg Message) {
	for _, ch := range d.channels {
		if err := ch.Send(ctx, msg); err != nil {
			log.Printf("%s notification failed for model %s: %v", ch.Name(), msg.ModelID, err)
		}
	}
}

func (d *Dispatcher) state(ctx context.Context, modelID string) *models.NotificationState {
	state, err := d.store.GetNotificationState(ctx, modelID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("error loading notification state for model %s: %v", modelID, err)
		}
		return &models.NotificationState{ModelID: modelID, Status: models.StatusHealthy}
	}
	return state
}

// inQuietHours reports whether t is inside the configured local-time window.
// The window may wrap midnight, e.g. [23:00, 08:00).
func (d *Dispatcher) inQuietHours(t time.Time) bool {
	start, end := d.opts.QuietHoursStart, d.opts.QuietHoursEnd
	if start == end {
		return false
	}
	hour := t.In(d.opts.Location).Hour()
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
