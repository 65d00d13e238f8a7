package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
	"github.com/microbiomedata/funcagg/pkg/server/monitor"
	"github.com/microbiomedata/funcagg/pkg/storage/badger"
	"github.com/microbiomedata/funcagg/pkg/storage/memory"
)

// fakeRunner records its invocations in a shared call log.
type fakeRunner struct {
	name  string
	calls *[]string
	run   func(ctx context.Context, call int) error
	n     int
}

func (f *fakeRunner) Run(ctx context.Context) (*aggregation.Report, error) {
	f.n++
	*f.calls = append(*f.calls, f.name)
	report := &aggregation.Report{Builder: f.name, Processed: 1}
	if f.run != nil {
		if err := f.run(ctx, f.n); err != nil {
			return report, err
		}
	}
	return report, nil
}

func newJournal(t *testing.T) *badger.Journal {
	t.Helper()
	j, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// stopAfter returns an after func that fires immediately for the first
// cycles-1 sleeps and cancels on the last one.
func stopAfter(cycles int, cancel context.CancelFunc, waits *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*waits = append(*waits, d)
		if len(*waits) >= cycles {
			cancel()
			return make(chan time.Time)
		}
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func TestScheduler_OneRunPerBuilderPerCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	metag := &fakeRunner{name: "metag", calls: &calls}
	metap := &fakeRunner{name: "metap", calls: &calls}

	journal := newJournal(t)
	mon := monitor.NewCycleMonitor(time.Hour)
	metrics := NewMetrics(prometheus.NewRegistry())

	s := NewScheduler([]Runner{metag, metap}, SchedulerConfig{
		Interval: 4 * time.Hour,
		Monitor:  mon,
		Metrics:  metrics,
		Journal:  journal,
	})
	var waits []time.Duration
	s.after = stopAfter(3, cancel, &waits)

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, []string{"metag", "metap", "metag", "metap", "metag", "metap"}, calls)
	assert.Equal(t, []time.Duration{4 * time.Hour, 4 * time.Hour, 4 * time.Hour}, waits)

	n, err := journal.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, mon.Status().Cycles)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.cycles.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.units.WithLabelValues("metap", "aggregated")))
}

func TestScheduler_SleepStartsAfterCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls []string
	slow := &fakeRunner{name: "metag", calls: &calls, run: func(context.Context, int) error {
		clock = clock.Add(90 * time.Minute)
		return nil
	}}

	journal := newJournal(t)
	s := NewScheduler([]Runner{slow}, SchedulerConfig{Interval: time.Hour, Journal: journal})
	s.now = func() time.Time { return clock }

	var sleptAt []time.Time
	s.after = func(d time.Duration) <-chan time.Time {
		sleptAt = append(sleptAt, clock)
		clock = clock.Add(d)
		if len(sleptAt) == 2 {
			cancel()
			return make(chan time.Time)
		}
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	require.NoError(t, s.Run(ctx))

	cycles, err := journal.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	// newest first
	assert.Equal(t, sleptAt[0], cycles[1].Finished)
	assert.Equal(t, time.Hour, cycles[0].Started.Sub(cycles[1].Finished))
}

func TestScheduler_BuilderErrorStopsLoop(t *testing.T) {
	var calls []string
	down := errors.New("server selection error")
	metag := &fakeRunner{name: "metag", calls: &calls, run: func(context.Context, int) error { return down }}
	metap := &fakeRunner{name: "metap", calls: &calls}

	journal := newJournal(t)
	mon := monitor.NewCycleMonitor(time.Hour)
	s := NewScheduler([]Runner{metag, metap}, SchedulerConfig{Interval: time.Hour, Monitor: mon, Journal: journal})
	s.after = func(time.Duration) <-chan time.Time {
		t.Fatal("scheduler slept after a failed cycle")
		return nil
	}

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, []string{"metag"}, calls)
	assert.False(t, mon.IsHealthy())

	cycles, _ := journal.Recent(context.Background(), 1)
	require.Len(t, cycles, 1)
	assert.Equal(t, "server selection error", cycles[0].Error)
}

func TestScheduler_CancelDuringCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	metag := &fakeRunner{name: "metag", calls: &calls, run: func(ctx context.Context, _ int) error {
		cancel()
		return ctx.Err()
	}}
	metap := &fakeRunner{name: "metap", calls: &calls}

	journal := newJournal(t)
	mon := monitor.NewCycleMonitor(time.Hour)
	s := NewScheduler([]Runner{metag, metap}, SchedulerConfig{Interval: time.Hour, Monitor: mon, Journal: journal})

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []string{"metag"}, calls)
	assert.True(t, mon.IsHealthy())

	n, _ := journal.Len(context.Background())
	assert.Equal(t, 0, n)
}

func TestScheduler_Retention(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	journal := newJournal(t)
	s := NewScheduler([]Runner{&fakeRunner{name: "metag", calls: &calls}}, SchedulerConfig{
		Interval:  time.Minute,
		Retention: 2,
		Journal:   journal,
	})
	var waits []time.Duration
	s.after = stopAfter(4, cancel, &waits)

	require.NoError(t, s.Run(ctx))

	n, err := journal.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScheduler_RefreshesStatsAndPublishes(t *testing.T) {
	source := &countingStats{store: memory.New()}
	stats := NewStatsCache(source)
	hub := NewReportHub()

	var calls []string
	s := NewScheduler([]Runner{&fakeRunner{name: "metag", calls: &calls}}, SchedulerConfig{
		Interval: time.Hour,
		Stats:    stats,
		Hub:      hub,
	})

	cycle, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.calls.Load())
	assert.NotNil(t, stats.Get())

	hub.mu.Lock()
	last := hub.last
	hub.mu.Unlock()
	var ev CycleEvent
	require.NoError(t, json.Unmarshal(last, &ev))
	assert.Equal(t, EventCycleFinished, ev.Type)
	assert.Equal(t, cycle.ID, ev.Cycle.ID)
	require.Len(t, ev.Cycle.Reports, 1)
}

type fakeGC struct {
	runs chan float64
	err  error
}

func (f *fakeGC) RunGC(discardRatio float64) error {
	f.runs <- discardRatio
	return f.err
}

func TestRunJournalGC(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gc := &fakeGC{runs: make(chan float64, 1)}

	done := make(chan struct{})
	go func() {
		RunJournalGC(ctx, gc, 5*time.Millisecond)
		close(done)
	}()

	select {
	case ratio := <-gc.runs:
		assert.Equal(t, 0.5, ratio)
	case <-time.After(2 * time.Second):
		t.Fatal("GC did not run")
	}

	cancel()
	// drain a tick that may race with cancellation
	go func() {
		for range gc.runs {
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GC loop did not stop")
	}
}
