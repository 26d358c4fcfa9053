package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelwatch/internal/models"
	"modelwatch/internal/probe"
	"modelwatch/internal/storage"
	"modelwatch/internal/storage/memory"
)

var testEndpoint = probe.Endpoint{BaseURL: "https://api.example.com", APIKey: "sk-test"}

var (
	pass = probe.Result{Success: true, GotReply: true, Latency: 50 * time.Millisecond}
	fail = probe.Result{GotReply: true, Kind: models.ErrKindHTTP, HTTPStatus: 503, Message: "service unavailable"}
)

// fakeProber replays a scripted sequence of results, then passes forever.
type fakeProber struct {
	mu     sync.Mutex
	script []probe.Result
	calls  int
}

func (f *fakeProber) Probe(ctx context.Context, ep probe.Endpoint, modelID string) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.script) == 0 {
		return pass
	}
	r := f.script[0]
	f.script = f.script[1:]
	return r
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier records dispatcher invocations.
type fakeNotifier struct {
	mu        sync.Mutex
	failures  []models.Outcome
	recovered []models.Outcome
}

func (f *fakeNotifier) ConfirmedFailure(ctx context.Context, m models.Model, o *models.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, *o)
}

func (f *fakeNotifier) Recovered(ctx context.Context, m models.Model, o *models.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, *o)
}

func (f *fakeNotifier) failureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failures)
}

func setup(t *testing.T, script ...probe.Result) (*Runner, *memory.MemoryStore, *fakeProber, *fakeNotifier, *clock.Mock, models.Model) {
	t.Helper()
	store := memory.New()
	m := models.Model{ModelID: "gpt-test", DisplayName: "GPT Test", Enabled: true}
	require.NoError(t, store.UpsertModel(context.Background(), &m))

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC))

	prober := &fakeProber{script: script}
	notifier := &fakeNotifier{}
	r := New(store, prober, notifier, mock, testEndpoint, 3*time.Minute)
	return r, store, prober, notifier, mock, m
}

func outcomes(t *testing.T, store storage.Storer, modelID string) []models.Outcome {
	t.Helper()
	list, err := store.ListOutcomes(context.Background(), storage.ListOutcomesParams{ModelID: modelID})
	require.NoError(t, err)
	return list
}

func TestSuccessCommitsImmediately(t *testing.T) {
	r, store, _, notifier, _, m := setup(t, pass)

	res, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, res.Outcome.Success)
	assert.False(t, res.Provisional)

	committed := outcomes(t, store, m.ID)
	require.Len(t, committed, 1)
	assert.True(t, committed[0].Success)
	require.NotNil(t, committed[0].LatencyMS)
	assert.Equal(t, int64(50), *committed[0].LatencyMS)
	assert.Zero(t, notifier.failureCount())
	assert.Zero(t, r.PendingRetries())
}

func TestFirstFailureIsProvisional(t *testing.T) {
	r, store, _, notifier, _, m := setup(t, fail)

	res, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, res.Outcome.Success)
	assert.True(t, res.Provisional)

	// Nothing committed, nothing alerted: the failure is not yet real.
	assert.Empty(t, outcomes(t, store, m.ID))
	assert.Zero(t, notifier.failureCount())
	assert.Equal(t, 1, r.PendingRetries())
}

func TestTransientFailureNeverSurfaces(t *testing.T) {
	r, store, prober, notifier, mock, m := setup(t, fail, pass)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)

	mock.Add(3 * time.Minute)

	committed := outcomes(t, store, m.ID)
	require.Len(t, committed, 1)
	assert.True(t, committed[0].Success, "recovered retry must not record a failure")
	assert.Zero(t, notifier.failureCount())
	assert.Zero(t, r.PendingRetries())
	assert.Equal(t, 2, prober.callCount())
}

func TestConfirmedFailureCommitsWithRetryTimestamp(t *testing.T) {
	r, store, _, notifier, mock, m := setup(t, fail, fail)

	start := mock.Now()
	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)

	mock.Add(3 * time.Minute)

	committed := outcomes(t, store, m.ID)
	require.Len(t, committed, 1)
	assert.False(t, committed[0].Success)
	assert.Equal(t, start.Add(3*time.Minute).UTC(), committed[0].TestedAt)
	assert.Equal(t, models.ErrKindHTTP, committed[0].Kind)
	assert.Equal(t, 503, committed[0].HTTPStatus)
	assert.Equal(t, 1, notifier.failureCount())
}

func TestRetryNotFiredEarly(t *testing.T) {
	r, store, _, _, mock, m := setup(t, fail, fail)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	assert.Empty(t, outcomes(t, store, m.ID))
	assert.Equal(t, 1, r.PendingRetries())
}

func TestNewerProbeSupersedesPendingRetry(t *testing.T) {
	r, store, prober, notifier, mock, m := setup(t, fail, pass)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, 1, r.PendingRetries())

	// The regular cycle re-probes before the retry fires; its success wins
	// and the pending retry is cancelled, not merely ignored.
	mock.Add(time.Minute)
	res, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, res.Outcome.Success)
	assert.Zero(t, r.PendingRetries())

	mock.Add(10 * time.Minute)
	committed := outcomes(t, store, m.ID)
	require.Len(t, committed, 1)
	assert.True(t, committed[0].Success)
	assert.Zero(t, notifier.failureCount())
	assert.Equal(t, 2, prober.callCount(), "cancelled retry must not probe again")
}

func TestRepeatedFailureReplacesPendingRetry(t *testing.T) {
	r, store, prober, notifier, mock, m := setup(t, fail, fail, fail)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)

	// Second regular probe fails again before the first retry fires: the
	// older retry is replaced, only the newer decision path persists.
	mock.Add(time.Minute)
	_, err = r.RunModel(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingRetries())

	mock.Add(3 * time.Minute)
	committed := outcomes(t, store, m.ID)
	require.Len(t, committed, 1)
	assert.False(t, committed[0].Success)
	assert.Equal(t, 1, notifier.failureCount())
	assert.Equal(t, 3, prober.callCount())
}

func TestRecoveryInformsNotifier(t *testing.T) {
	r, _, _, notifier, mock, m := setup(t, fail, fail, pass)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	mock.Add(3 * time.Minute)
	require.Equal(t, 1, notifier.failureCount())

	_, err = r.RunModel(context.Background(), m)
	require.NoError(t, err)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Len(t, notifier.recovered, 1)
}

func TestUnconfiguredEndpointSurfacesError(t *testing.T) {
	store := memory.New()
	prober := &fakeProber{}
	r := New(store, prober, nil, clock.NewMock(), probe.Endpoint{}, 3*time.Minute)

	_, err := r.RunModel(context.Background(), models.Model{ID: "x", ModelID: "gpt"})
	assert.ErrorIs(t, err, probe.ErrNotConfigured)
	assert.Zero(t, prober.callCount())
}

func TestStopCancelsPendingRetries(t *testing.T) {
	r, store, _, _, mock, m := setup(t, fail, fail)

	_, err := r.RunModel(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, 1, r.PendingRetries())

	r.Stop()
	assert.Zero(t, r.PendingRetries())

	mock.Add(10 * time.Minute)
	assert.Empty(t, outcomes(t, store, m.ID))
}
