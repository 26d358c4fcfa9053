package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"modelwatch/internal/models"
	"modelwatch/internal/probe"
	"modelwatch/internal/storage"
)

// Notifier receives failure-transition events after an outcome is committed.
type Notifier interface {
	ConfirmedFailure(ctx context.Context, m models.Model, o *models.Outcome)
	Recovered(ctx context.Context, m models.Model, o *models.Outcome)
}

// RunResult is the immediate answer of one retry-gated probe. A Provisional
// result is a first failure that has not been committed to the ledger; the
// confirmation retry will settle it.
type RunResult struct {
	Outcome     models.Outcome
	Provisional bool
}

type pendingRetry struct {
	model          models.Model
	firstFailureAt time.Time
	timer          *clock.Timer
}

// Runner wraps the probe executor with the confirmation-retry policy:
// a first failure is provisional and only a second failure, after a fixed
// delay, is committed and alerted. It is the only component that writes
// probe outcomes, and it serializes all probing per model.
type Runner struct {
	store      storage.Storer
	prober     probe.Prober
	notifier   Notifier
	clk        clock.Clock
	endpoint   probe.Endpoint
	retryDelay time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]*pendingRetry
}

// New creates a Runner. notifier may be nil, in which case confirmed failures
// are recorded but nothing is dispatched.
func New(store storage.Storer, prober probe.Prober, notifier Notifier, clk clock.Clock, endpoint probe.Endpoint, retryDelay time.Duration) *Runner {
	return &Runner{
		store:      store,
		prober:     prober,
		notifier:   notifier,
		clk:        clk,
		endpoint:   endpoint,
		retryDelay: retryDelay,
		locks:      make(map[string]*sync.Mutex),
		pending:    make(map[string]*pendingRetry),
	}
}

// RunModel performs one retry-gated probe for a model. Concurrent calls for
// the same model serialize; a newer call supersedes and cancels any pending
// confirmation retry, so only the most recent decision path persists.
// Returns a configuration error when the endpoint is unusable.
func (r *Runner) RunModel(ctx context.Context, m models.Model) (RunResult, error) {
	if err := r.endpoint.Validate(); err != nil {
		return RunResult{}, err
	}

	lock := r.modelLock(m.ID)
	lock.Lock()
	defer lock.Unlock()

	r.cancelPending(m.ID)
	return r.attempt(ctx, m, false), nil
}

// Stop cancels all pending confirmation retries.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, id)
	}
}

// PendingRetries reports how many confirmation retries are scheduled.
func (r *Runner) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// attempt runs the probe and applies the gate. The caller holds the model
// lock. confirming is true on the delayed second attempt.
func (r *Runner) attempt(ctx context.Context, m models.Model, confirming bool) RunResult {
	res := r.prober.Probe(ctx, r.endpoint, m.ModelID)
	now := r.clk.Now().UTC()
	o := outcomeFrom(m, res, now)

	if res.Success {
		r.commit(ctx, m, o)
		return RunResult{Outcome: *o}
	}

	if confirming {
		log.Printf("model %s failed confirmation retry: %s", m.ModelID, o.Message)
		r.commit(ctx, m, o)
		return RunResult{Outcome: *o}
	}

	log.Printf("model %s failed, scheduling confirmation retry in %s", m.ModelID, r.retryDelay)
	r.schedule(m, now)
	return RunResult{Outcome: *o, Provisional: true}
}

// commit appends the outcome to the ledger and then informs the dispatcher.
// The append always happens before any notification that reads it.
func (r *Runner) commit(ctx context.Context, m models.Model, o *models.Outcome) {
	if err := r.store.AppendOutcome(ctx, o); err != nil {
		log.Printf("error saving outcome for model %s: %v", m.ModelID, err)
		return
	}
	if r.notifier == nil {
		return
	}
	if o.Success {
		r.notifier.Recovered(ctx, m, o)
	} else {
		r.notifier.ConfirmedFailure(ctx, m, o)
	}
}

// schedule arms the confirmation retry for a model, replacing any previous one.
func (r *Runner) schedule(m models.Model, firstFailureAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[m.ID]; ok {
		prev.timer.Stop()
	}
	p := &pendingRetry{model: m, firstFailureAt: firstFailureAt}
	p.timer = r.clk.AfterFunc(r.retryDelay, func() { r.confirm(p) })
	r.pending[m.ID] = p
}

// confirm is the delayed second attempt. If the retry was superseded by a
// newer probe while the timer was in flight, it does nothing.
func (r *Runner) confirm(p *pendingRetry) {
	lock := r.modelLock(p.model.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	cur, ok := r.pending[p.model.ID]
	if !ok || cur != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, p.model.ID)
	r.mu.Unlock()

	r.attempt(context.Background(), p.model, true)
}

func (r *Runner) cancelPending(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pending[modelID]; ok {
		p.timer.Stop()
		delete(r.pending, modelID)
	}
}

func (r *Runner) modelLock(modelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[modelID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[modelID] = lock
	}
	return lock
}

func outcomeFrom(m models.Model, res probe.Result, at time.Time) *models.Outcome {
	o := &models.Outcome{
		ModelID:    m.ID,
		TestedAt:   at,
		Success:    res.Success,
		Kind:       res.Kind,
		HTTPStatus: res.HTTPStatus,
		Message:    res.Message,
	}
	if res.GotReply {
		ms := res.Latency.Milliseconds()
		o.LatencyMS = &ms
	}
	return o
}
