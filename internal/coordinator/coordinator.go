package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/tide-data-service/internal/adapter/upstream"
	"github.com/couchcryptid/tide-data-service/internal/domain"
	"github.com/couchcryptid/tide-data-service/internal/ingest"
	"github.com/couchcryptid/tide-data-service/internal/observability"
)

// ErrNoTideData fails a cycle: without tides there is no view to publish.
var ErrNoTideData = errors.New("no tide data available")

// ErrNoView is returned when a harbor has not published a view yet.
var ErrNoView = errors.New("no view published yet")

// State is the phase of the refresh cycle.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateRepairing   State = "repairing"
	StateReconciling State = "reconciling"
	StatePublished   State = "published"
)

// Status is the published state of a harbor. View is the last good view and
// is kept when later cycles fail; Stale reports that case.
type Status struct {
	Harbor      string       `json:"harbor"`
	State       State        `json:"state"`
	View        *domain.View `json:"view,omitempty"`
	CycleID     string       `json:"cycle_id,omitempty"`
	LastSuccess time.Time    `json:"last_success,omitzero"`
	LastAttempt time.Time    `json:"last_attempt,omitzero"`
	LastError   string       `json:"last_error,omitempty"`
	Stale       bool         `json:"stale"`
}

// EventSink receives a summary of every cycle.
type EventSink interface {
	Publish(ctx context.Context, event domain.CycleEvent) error
}

// Options configure a Coordinator. Directory and Events are optional.
type Options struct {
	Interval  time.Duration
	Clock     clockwork.Clock
	Directory upstream.HarborDirectory
	Events    EventSink
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Coordinator refreshes the view of one harbor on a fixed interval and on
// demand. Cycles never overlap.
type Coordinator struct {
	ing      *ingest.Ingester
	dir      upstream.HarborDirectory
	events   EventSink
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	harborMu sync.RWMutex
	harbor   domain.Harbor

	cycleMu sync.Mutex
	state   atomic.Value // State
	status  atomic.Pointer[Status]
	trigger chan struct{}
	levels  singleflight.Group
}

// New creates a Coordinator for h.
func New(h domain.Harbor, ing *ingest.Ingester, opts Options) *Coordinator {
	c := &Coordinator{
		ing:      ing,
		dir:      opts.Directory,
		events:   opts.Events,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger.With("harbor", h.ID),
		metrics:  opts.Metrics,
		harbor:   h,
		trigger:  make(chan struct{}, 1),
	}
	c.state.Store(StateIdle)
	c.status.Store(&Status{Harbor: h.ID, State: StateIdle})
	return c
}

// Harbor returns the harbor with any backfilled coordinates.
func (c *Coordinator) Harbor() domain.Harbor {
	c.harborMu.RLock()
	defer c.harborMu.RUnlock()
	return c.harbor
}

// Status returns the latest published status.
func (c *Coordinator) Status() Status {
	s := *c.status.Load()
	s.State = c.state.Load().(State)
	return s
}

// CheckReadiness returns nil once a view has been published.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if c.status.Load().View == nil {
		return fmt.Errorf("harbor %s: %w", c.Harbor().ID, ErrNoView)
	}
	return nil
}

// Trigger requests a cycle without waiting for it. Requests made while one
// is pending are merged.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes immediately, then on every interval tick and trigger, until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "interval", c.interval)
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		case <-c.trigger:
		}
	}
}

// cycle collects what a refresh did for the event it emits.
type cycle struct {
	id       string
	repaired []domain.Kind
	failed   []domain.Kind
}

func (cy *cycle) record(kind domain.Kind, outcome ingest.RepairOutcome) {
	switch outcome {
	case ingest.RepairSucceeded:
		cy.repaired = append(cy.repaired, kind)
	case ingest.RepairFailed:
		cy.failed = append(cy.failed, kind)
	}
}

// Refresh runs one cycle. On failure the previously published view is kept
// and marked stale.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	cy := &cycle{id: uuid.NewString()}
	log := c.logger.With("cycle_id", cy.id)
	start := c.clock.Now()
	harborID := c.Harbor().ID

	view, err := c.runCycle(ctx, cy, log)

	c.metrics.CycleDuration.WithLabelValues(harborID).Observe(c.clock.Since(start).Seconds())
	prev := c.status.Load()
	next := *prev
	next.CycleID = cy.id
	next.LastAttempt = start.UTC()

	event := domain.CycleEvent{
		ID:              cy.id,
		Harbor:          harborID,
		RepairedDomains: cy.repaired,
		FailedDomains:   cy.failed,
		At:              c.clock.Now().UTC(),
	}

	if err != nil {
		next.LastError = err.Error()
		next.Stale = next.View != nil
		c.status.Store(&next)
		c.state.Store(StateIdle)
		if next.Stale {
			c.metrics.ViewStale.WithLabelValues(harborID).Set(1)
		}
		c.metrics.CycleResults.WithLabelValues(harborID, domain.OutcomeFailed).Inc()
		log.Error("refresh cycle failed, keeping previous view", "error", err, "stale", next.Stale)

		event.Outcome = domain.OutcomeFailed
		event.Error = err.Error()
		c.publish(ctx, event, log)
		return err
	}

	next.View = &view
	next.LastSuccess = next.LastAttempt
	next.LastError = ""
	next.Stale = false
	c.status.Store(&next)
	c.state.Store(StatePublished)
	c.metrics.ViewStale.WithLabelValues(harborID).Set(0)
	c.metrics.CycleResults.WithLabelValues(harborID, domain.OutcomePublished).Inc()
	log.Info("view published", "duration", c.clock.Since(start), "repaired", cy.repaired)

	event.Outcome = domain.OutcomePublished
	c.publish(ctx, event, log)
	return nil
}

func (c *Coordinator) publish(ctx context.Context, event domain.CycleEvent, log *slog.Logger) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, event); err != nil {
		log.Warn("failed to publish cycle event", "error", err)
	}
}

func (c *Coordinator) runCycle(ctx context.Context, cy *cycle, log *slog.Logger) (domain.View, error) {
	c.state.Store(StateLoading)
	c.backfillCoordinates(ctx, log)
	h := c.Harbor()
	loc := h.Location()
	today := c.ing.Today(h)

	if _, err := c.ing.Prune(ctx, domain.KindWaterTemp, h); err != nil {
		log.Warn("water temperature prune failed", "error", err)
	}

	c.state.Store(StateRepairing)
	tides, outcome, err := c.ing.ValidateAndRepair(ctx, domain.KindTides, h)
	if err != nil {
		return domain.View{}, fmt.Errorf("load tides: %w", err)
	}
	cy.record(domain.KindTides, outcome)
	if len(tides) == 0 {
		return domain.View{}, ErrNoTideData
	}

	coeffs, outcome, err := c.ing.ValidateAndRepair(ctx, domain.KindCoefficients, h)
	if err != nil {
		log.Warn("coefficients unavailable", "error", err)
	}
	cy.record(domain.KindCoefficients, outcome)

	var temps domain.Entry
	if h.HasCoordinates() {
		temps, outcome, err = c.ing.ValidateAndRepair(ctx, domain.KindWaterTemp, h)
		if err != nil {
			log.Warn("water temperature unavailable", "error", err)
		}
		cy.record(domain.KindWaterTemp, outcome)
	}

	levels, outcome, err := c.ing.ValidateAndRepair(ctx, domain.KindWaterLevels, h)
	if err != nil {
		log.Warn("water levels unavailable", "error", err)
	}
	cy.record(domain.KindWaterLevels, outcome)
	todayLevels := c.todayLevels(ctx, h, levels, today, log)

	c.state.Store(StateReconciling)
	return c.reconcile(h, tides, coeffs, temps, todayLevels, loc, log)
}

// reconcile decodes the entries and builds the view. Tide decoding failures
// and builder panics fail the cycle; the other series degrade to absent.
func (c *Coordinator) reconcile(h domain.Harbor, tides, coeffs, temps domain.Entry, levels []domain.WaterLevelSample, loc *time.Location, log *slog.Logger) (view domain.View, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build view: %v", r)
		}
	}()

	in := domain.ViewInput{Harbor: h.ID, WaterLevels: levels}
	if in.Tides, err = domain.DecodeTides(tides); err != nil {
		return domain.View{}, fmt.Errorf("decode tides: %w", err)
	}
	if len(coeffs) > 0 {
		if in.Coefficients, err = domain.DecodeCoefficients(coeffs); err != nil {
			log.Warn("ignoring unreadable coefficients", "error", err)
			in.Coefficients = nil
		}
	}
	if len(temps) > 0 {
		if in.WaterTemps, err = domain.DecodeWaterTemps(temps); err != nil {
			log.Warn("ignoring unreadable water temperature", "error", err)
			in.WaterTemps = nil
		}
	}
	return domain.BuildView(in, c.clock.Now(), loc, log), nil
}

// todayLevels returns today's samples from the cached entry, fetching them
// once when absent.
func (c *Coordinator) todayLevels(ctx context.Context, h domain.Harbor, entry domain.Entry, today time.Time, log *slog.Logger) []domain.WaterLevelSample {
	key := domain.FormatDate(today)
	if raw, ok := entry[key]; ok {
		decoded, err := domain.DecodeWaterLevels(domain.Entry{key: raw})
		if err == nil {
			return decoded[key]
		}
		log.Warn("ignoring unreadable water levels", "date", key, "error", err)
		return nil
	}
	log.Info("water levels for today missing, fetching")
	samples, err := c.FetchWaterLevel(ctx, today)
	if err != nil {
		log.Warn("current water height unavailable this cycle", "error", err)
		return nil
	}
	return samples
}

// FetchWaterLevel fetches and stores one date of water levels. Concurrent
// calls for the same date share one upstream request.
func (c *Coordinator) FetchWaterLevel(ctx context.Context, date time.Time) ([]domain.WaterLevelSample, error) {
	key := domain.FormatDate(date)
	v, err, _ := c.levels.Do(key, func() (any, error) {
		samples, ok := c.ing.FetchWaterLevel(ctx, c.Harbor(), date)
		if !ok {
			return nil, fmt.Errorf("%w: water levels for %s on %s", upstream.ErrFetchFailed, c.Harbor().ID, key)
		}
		return samples, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.WaterLevelSample), nil
}

// backfillCoordinates fills missing coordinates from the harbor directory.
func (c *Coordinator) backfillCoordinates(ctx context.Context, log *slog.Logger) {
	if c.dir == nil || c.Harbor().HasCoordinates() {
		return
	}
	dir, err := c.dir.Harbors(ctx)
	if err != nil {
		log.Warn("harbor directory unavailable, coordinates stay unknown", "error", err)
		return
	}

	c.harborMu.Lock()
	applied := upstream.ApplyCoordinates(&c.harbor, dir)
	h := c.harbor
	c.harborMu.Unlock()

	if applied {
		log.Info("harbor coordinates backfilled", "lat", h.LatString(), "lon", h.LonString())
	} else {
		log.Warn("harbor not found in directory or has no coordinates")
	}
}
