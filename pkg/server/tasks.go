package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
	"github.com/microbiomedata/funcagg/pkg/server/monitor"
)

// Runner performs one aggregation pass. *aggregation.Builder implements it.
type Runner interface {
	Run(ctx context.Context) (*aggregation.Report, error)
}

// Journal persists finished cycles. *badger.Journal from pkg/storage/badger
// implements it.
type Journal interface {
	Save(ctx context.Context, c *aggregation.Cycle) error
	Recent(ctx context.Context, limit int) ([]aggregation.Cycle, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// SchedulerConfig wires the optional observers of a Scheduler. Nil fields
// are skipped.
type SchedulerConfig struct {
	Interval  time.Duration
	Retention int

	Monitor *monitor.CycleMonitor
	Metrics *Metrics
	Journal Journal
	Hub     *ReportHub
	Stats   *StatsCache
}

// Scheduler runs every builder once per cycle and sleeps Interval between
// cycles.
type Scheduler struct {
	builders []Runner
	cfg      SchedulerConfig

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler creates a scheduler running builders in the given order.
func NewScheduler(builders []Runner, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		builders: builders,
		cfg:      cfg,
		now:      time.Now,
		after:    time.After,
	}
}

// Run loops until ctx is cancelled, which returns nil. A builder error ends
// the loop and is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("Aggregation scheduler started (interval %v)", s.cfg.Interval)
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				log.Println("Stopping aggregation scheduler")
				return nil
			}
			return err
		}

		log.Printf("sleeping %v", s.cfg.Interval)
		select {
		case <-ctx.Done():
			log.Println("Stopping aggregation scheduler")
			return nil
		case <-s.after(s.cfg.Interval):
		}
	}
}

// RunCycle runs each builder once, in order, and records the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (*aggregation.Cycle, error) {
	cycle := &aggregation.Cycle{ID: uuid.NewString(), Started: s.now()}
	log.Printf("Aggregation cycle %s started at %s", cycle.ID, cycle.Started.Format(time.RFC3339))
	s.publish(EventCycleStarted, cycle)

	var runErr error
	for _, b := range s.builders {
		report, err := b.Run(ctx)
		if report != nil {
			cycle.Reports = append(cycle.Reports, report)
			log.Println(report.Summary())
		}
		if err != nil {
			runErr = err
			break
		}
	}
	cycle.Finished = s.now()

	if runErr != nil && ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
		log.Printf("Aggregation cycle %s interrupted", cycle.ID)
		return cycle, runErr
	}
	if runErr != nil {
		cycle.Error = runErr.Error()
		runErr = fmt.Errorf("aggregation cycle %s failed: %w", cycle.ID, runErr)
	}

	s.record(ctx, cycle, runErr)
	return cycle, runErr
}

func (s *Scheduler) record(ctx context.Context, cycle *aggregation.Cycle, err error) {
	processed, failed, skipped := cycle.Totals()
	if err == nil {
		log.Printf("Aggregation cycle %s completed in %v (%d aggregated, %d failed, %d skipped)",
			cycle.ID, cycle.Finished.Sub(cycle.Started).Round(time.Millisecond), processed, failed, skipped)
	}

	if m := s.cfg.Monitor; m != nil {
		if err != nil {
			m.RecordFailure(err)
		} else {
			m.RecordSuccess(failed)
		}
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveCycle(cycle, err)
	}

	if j := s.cfg.Journal; j != nil {
		if err := j.Save(ctx, cycle); err != nil {
			log.Printf("Failed to journal cycle %s: %v", cycle.ID, err)
		} else if s.cfg.Retention > 0 {
			if n, err := j.Prune(ctx, s.cfg.Retention); err != nil {
				log.Printf("Failed to prune cycle journal: %v", err)
			} else if n > 0 {
				log.Printf("Pruned %d old cycles from journal", n)
			}
		}
	}

	if c := s.cfg.Stats; c != nil {
		if err := c.Refresh(ctx); err != nil {
			log.Printf("Failed to refresh store stats: %v", err)
		}
	}

	s.publish(EventCycleFinished, cycle)
}

func (s *Scheduler) publish(t EventType, cycle *aggregation.Cycle) {
	if s.cfg.Hub == nil {
		return
	}
	if err := s.cfg.Hub.Publish(CycleEvent{Type: t, Cycle: cycle}); err != nil {
		log.Printf("Failed to publish %s: %v", t, err)
	}
}

// GarbageCollector reclaims value log space. *badger.Journal implements it.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunJournalGC runs journal garbage collection every interval until ctx is done.
func RunJournalGC(ctx context.Context, gc GarbageCollector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Journal GC scheduler started (runs every %v)", interval)
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := gc.RunGC(0.5)
			switch {
			case err == nil:
				log.Printf("Journal GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badger.ErrNoRewrite):
			default:
				log.Printf("Journal GC failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("Stopping journal GC scheduler")
			return
		}
	}
}
