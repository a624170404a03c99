// Package scheduler runs jobs on daily cron schedules evaluated in a fixed
// timezone. Prefetch slots are randomized so harbors sharing an upstream do
// not all call it at once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Prefetch slots fall between 01:00 and 05:59.
const (
	firstHour = 1
	lastHour  = 5
)

// Slot is a daily time of day.
type Slot struct {
	Hour   int
	Minute int
}

// Expr renders the slot as a five-field cron expression.
func (s Slot) Expr() string {
	return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
}

func (s Slot) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// RandomSlots draws n distinct slots. A seed of 0 draws from a time based
// seed.
func RandomSlots(seed int64, n int) []Slot {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed>>1)))

	slots := make([]Slot, 0, n)
	taken := make(map[Slot]bool, n)
	for len(slots) < n {
		s := Slot{Hour: firstHour + rng.IntN(lastHour-firstHour+1), Minute: rng.IntN(60)}
		for taken[s] {
			s.Minute = rng.IntN(60)
		}
		taken[s] = true
		slots = append(slots, s)
	}
	return slots
}

type job struct {
	name string
	expr *cronexpr.Expression
	spec string
	run  func(ctx context.Context)
}

// Scheduler fires registered jobs at their next cron match.
type Scheduler struct {
	clock  clockwork.Clock
	loc    *time.Location
	logger *slog.Logger

	mu   sync.Mutex
	jobs []job
}

// New creates a Scheduler evaluating schedules in loc.
func New(clk clockwork.Clock, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{clock: clk, loc: loc, logger: logger}
}

// Add registers run under a cron expression.
func (s *Scheduler) Add(name, spec string, run func(ctx context.Context)) error {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", spec, name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job{name: name, expr: expr, spec: spec, run: run})
	return nil
}

// Next returns the next run time of each job after now.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().In(s.loc)
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		out[j.name] = j.expr.Next(now)
	}
	return out
}

// Run blocks until ctx is cancelled, running each job at its schedule. A job
// is never run concurrently with itself.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	log := s.logger.With("job", j.name, "schedule", j.spec)
	for {
		now := s.clock.Now().In(s.loc)
		next := j.expr.Next(now)
		if next.IsZero() {
			log.Warn("schedule has no future runs")
			return
		}
		log.Info("next run scheduled", "at", next)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(now)):
		}

		log.Info("running scheduled job")
		start := s.clock.Now()
		j.run(ctx)
		log.Info("scheduled job finished", "duration", s.clock.Since(start))
	}
}
