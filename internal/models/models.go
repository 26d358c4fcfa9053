package models

import "time"

// Model is a monitored AI model. The registry that manages these records is
// external; the monitoring core only reads them.
type Model struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"model_id"` // identifier sent to the upstream API
	DisplayName  string    `json:"display_name"`
	LogoURL      string    `json:"logo_url,omitempty"`
	Enabled      bool      `json:"enabled"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrorKind classifies a failed probe.
type ErrorKind string

const (
	ErrKindNone      ErrorKind = ""
	ErrKindNetwork   ErrorKind = "network_error"
	ErrKindTimeout   ErrorKind = "timeout"
	ErrKindHTTP      ErrorKind = "http_error"
	ErrKindMalformed ErrorKind = "malformed_response"
)

// Outcome is one committed probe result for a model. Outcomes are append-only;
// they are never updated after being written.
type Outcome struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"model_id"`
	TestedAt   time.Time `json:"tested_at"`
	Success    bool      `json:"success"`
	LatencyMS  *int64    `json:"latency_ms"` // nil when the probe failed before a response
	Kind       ErrorKind `json:"error_kind,omitempty"`
	HTTPStatus int       `json:"error_code,omitempty"` // HTTP status for http_error, else 0
	Message    string    `json:"error_message,omitempty"`
}

// SlotStatus is the derived status of one hourly bucket.
type SlotStatus string

const (
	SlotSuccess SlotStatus = "success"
	SlotFailure SlotStatus = "failure"
	SlotNoData  SlotStatus = "no_data"
)

// HourlySlot is one of the trailing 24 one-hour buckets, recomputed on every
// stats read.
type HourlySlot struct {
	Hour   int        `json:"hour"` // wall-clock hour in the configured timezone
	Start  time.Time  `json:"start"`
	Status SlotStatus `json:"status"`
}

// ModelStats is the per-model read-side view served to dashboards.
// The 1-day rate is the slot-smoothed figure (Success slots / 24); the other
// windows are raw probe ratios. Rates are nil when the window holds no probes.
type ModelStats struct {
	ModelID          string       `json:"model_id"`
	ModelName        string       `json:"model_name"`
	DisplayName      string       `json:"display_name"`
	LogoURL          string       `json:"logo_url,omitempty"`
	HourlySlots      []HourlySlot `json:"hourly_slots"`
	Rate1d           *float64     `json:"rate_1d"`
	Rate3d           *float64     `json:"rate_3d"`
	Rate7d           *float64     `json:"rate_7d"`
	Rate30d          *float64     `json:"rate_30d"`
	LastErrorCode    *int         `json:"last_error_code"`
	LastErrorMessage *string      `json:"last_error_message"`
}

// AlertStatus is a model's last known alerting state.
type AlertStatus string

const (
	StatusHealthy  AlertStatus = "healthy"
	StatusAlerting AlertStatus = "alerting"
)

// NotificationState records the alert edge for one model so an ongoing outage
// alerts exactly once. Mutated only by the notification dispatcher.
type NotificationState struct {
	ModelID        string      `json:"model_id"`
	Status         AlertStatus `json:"status"`
	LastNotifiedAt *time.Time  `json:"last_notified_at"`
}

// SchedulerInfo reports the probing schedule to the API layer.
type SchedulerInfo struct {
	LastCycleAt     *time.Time `json:"last_cycle_at"`
	NextRunAt       time.Time  `json:"next_run_at"`
	IntervalMinutes int        `json:"interval_minutes"`
	AnchorHour      int        `json:"anchor_hour"`
	AnchorMinute    int        `json:"anchor_minute"`
}
