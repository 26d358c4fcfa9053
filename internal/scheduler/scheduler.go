package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"modelwatch/internal/models"
	"modelwatch/internal/runner"
	"modelwatch/internal/storage"
)

// ModelRun is the immediate outcome of probing one model, as returned by the
// on-demand entry points. Err is set for configuration errors only; a failing
// probe is data inside Result.
type ModelRun struct {
	Model  models.Model     `json:"model"`
	Result runner.RunResult `json:"result"`
	Err    error            `json:"-"`
}

// Scheduler fires a full probing cycle on a fixed interval aligned to an
// anchor time-of-day. Within a cycle all enabled models are probed
// concurrently through the retry gate; per-model mutual exclusion lives in
// the runner, so on-demand runs and timed cycles never race on one model.
type Scheduler struct {
	store          storage.Storer
	runner         *runner.Runner
	clk            clock.Clock
	loc            *time.Location
	maxConcurrency int

	mu           sync.Mutex
	interval     time.Duration
	anchorHour   int
	anchorMinute int
	lastCycle    *time.Time
	nextRun      time.Time
	running      bool

	recalc   chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. maxConcurrency bounds per-cycle parallelism;
// zero means one goroutine per enabled model.
func New(store storage.Storer, r *runner.Runner, clk clock.Clock, loc *time.Location, intervalMinutes, anchorHour, anchorMinute, maxConcurrency int) (*Scheduler, error) {
	if intervalMinutes < 1 {
		return nil, fmt.Errorf("interval must be >= 1 minute, got %d", intervalMinutes)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:          store,
		runner:         r,
		clk:            clk,
		loc:            loc,
		maxConcurrency: maxConcurrency,
		interval:       time.Duration(intervalMinutes) * time.Minute,
		anchorHour:     anchorHour,
		anchorMinute:   anchorMinute,
		recalc:         make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
	}, nil
}

// Start begins the periodic probing loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.nextRun = s.nextFireLocked(s.clk.Now())
	next := s.nextRun
	s.mu.Unlock()
	log.Printf("scheduler started, first cycle at %s", next.Format(time.RFC3339))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.mu.Lock()
			next := s.nextRun
			s.mu.Unlock()

			wait := next.Sub(s.clk.Now())
			if wait < 0 {
				wait = 0
			}
			timer := s.clk.Timer(wait)

			select {
			case <-timer.C:
				s.runCycle(context.Background())
				s.advance()
			case <-s.recalc:
				timer.Stop()
			case <-s.stopChan:
				timer.Stop()
				return
			}
		}
	}()
}

// Stop halts the periodic loop, waiting for an in-flight cycle to settle.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Println("scheduler stopped")
}

// UpdateSchedule changes the interval and anchor. It takes effect on the next
// computed fire time and never retroactively fires a missed cycle.
func (s *Scheduler) UpdateSchedule(intervalMinutes, anchorHour, anchorMinute int) error {
	if intervalMinutes < 1 {
		return fmt.Errorf("interval must be >= 1 minute, got %d", intervalMinutes)
	}
	if anchorHour < 0 || anchorHour > 23 || anchorMinute < 0 || anchorMinute > 59 {
		return fmt.Errorf("invalid anchor time %02d:%02d", anchorHour, anchorMinute)
	}

	s.mu.Lock()
	s.interval = time.Duration(intervalMinutes) * time.Minute
	s.anchorHour = anchorHour
	s.anchorMinute = anchorMinute
	s.nextRun = s.nextFireLocked(s.clk.Now())
	s.mu.Unlock()

	select {
	case s.recalc <- struct{}{}:
	default:
	}
	return nil
}

// RunAllNow probes every enabled model immediately, with the same fan-out as
// the timed cycle. It does not disturb the periodic schedule.
func (s *Scheduler) RunAllNow(ctx context.Context) ([]ModelRun, error) {
	enabled, err := s.store.ListEnabledModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return s.probeAll(ctx, enabled), nil
}

// RunModelNow probes a single model immediately, still subject to the retry
// gate. Configuration errors surface to the caller.
func (s *Scheduler) RunModelNow(ctx context.Context, modelID string) (*ModelRun, error) {
	m, err := s.store.GetModelByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	res, err := s.runner.RunModel(ctx, *m)
	if err != nil {
		return nil, err
	}
	return &ModelRun{Model: *m, Result: res}, nil
}

// Info reports the last completed cycle and the next scheduled one.
func (s *Scheduler) Info() models.SchedulerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SchedulerInfo{
		LastCycleAt:     s.lastCycle,
		NextRunAt:       s.nextRun,
		IntervalMinutes: int(s.interval / time.Minute),
		AnchorHour:      s.anchorHour,
		AnchorMinute:    s.anchorMinute,
	}
}

// NextFire returns the smallest anchored fire time at or after now.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFireLocked(now)
}

// nextFireLocked computes the smallest time >= now reachable from the anchor
// by whole multiples of the interval. Callers hold s.mu.
func (s *Scheduler) nextFireLocked(now time.Time) time.Time {
	local := now.In(s.loc)
	anchor := time.Date(local.Year(), local.Month(), local.Day(), s.anchorHour, s.anchorMinute, 0, 0, s.loc)
	if anchor.After(local) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	elapsed := local.Sub(anchor)
	next := anchor.Add((elapsed / s.interval) * s.interval)
	if next.Before(local) {
		next = next.Add(s.interval)
	}
	return next
}

// advance moves nextRun past the cycle that just fired, skipping any fire
// times the cycle's own duration already consumed.
func (s *Scheduler) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now().In(s.loc)
	next := s.nextRun.Add(s.interval)
	for !next.After(now) {
		next = next.Add(s.interval)
	}
	s.nextRun = next
}

// runCycle probes all enabled models and waits for them to settle. A single
// model's failure never terminates the loop.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		done := s.clk.Now().UTC()
		s.mu.Lock()
		s.running = false
		s.lastCycle = &done
		s.mu.Unlock()
	}()

	enabled, err := s.store.ListEnabledModels(ctx)
	if err != nil {
		log.Printf("error fetching models for cycle: %v", err)
		return
	}
	if len(enabled) == 0 {
		log.Println("no enabled models to probe")
		return
	}

	log.Printf("probing %d models", len(enabled))
	runs := s.probeAll(ctx, enabled)

	passed := 0
	for _, run := range runs {
		if run.Err == nil && run.Result.Outcome.Success {
			passed++
		}
	}
	log.Printf("cycle completed: %d/%d passed", passed, len(runs))
}

// probeAll fans out one retry-gated probe per model. Cycle latency is bounded
// by the slowest probe, not the sum.
func (s *Scheduler) probeAll(ctx context.Context, ms []models.Model) []ModelRun {
	var sem chan struct{}
	if s.maxConcurrency > 0 {
		sem = make(chan struct{}, s.maxConcurrency)
	}

	runs := make([]ModelRun, len(ms))
	var wg sync.WaitGroup
	for i, m := range ms {
		wg.Add(1)
		go func(i int, m models.Model) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			res, err := s.runner.RunModel(ctx, m)
			if err != nil {
				log.Printf("skipping model %s: %v", m.ModelID, err)
				runs[i] = ModelRun{Model: m, Err: err}
				return
			}
			runs[i] = ModelRun{Model: m, Result: res}
		}(i, m)
	}
	wg.Wait()
	return runs
}
