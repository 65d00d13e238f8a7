package badger

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
)

func cycleAt(id string, started time.Time) *aggregation.Cycle {
	return &aggregation.Cycle{
		ID:       id,
		Started:  started,
		Finished: started.Add(time.Minute),
		Reports: []*aggregation.Report{
			{Builder: "metag", Processed: 2, Units: []aggregation.UnitResult{
				{UnitID: "nmdc:wfmgan-1", Terms: 3, Checksum: "00000000000000ff"},
			}},
		},
	}
}

func TestJournal_SaveAndRecent(t *testing.T) {
	// Use in-memory mode for tests
	journal, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	// saved out of order on purpose
	for _, i := range []int{1, 0, 2} {
		c := cycleAt(fmt.Sprintf("cycle-%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := journal.Save(ctx, c); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	cycles, err := journal.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("Expected 2 cycles, got %d", len(cycles))
	}
	if cycles[0].ID != "cycle-2" || cycles[1].ID != "cycle-1" {
		t.Errorf("Expected newest first, got %s, %s", cycles[0].ID, cycles[1].ID)
	}
	if got := cycles[0].Reports[0].Units[0].Checksum; got != "00000000000000ff" {
		t.Errorf("Checksum not round-tripped, got %q", got)
	}

	all, _ := journal.Recent(ctx, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 cycles with no limit, got %d", len(all))
	}
}

func TestJournal_SameStartDifferentIDs(t *testing.T) {
	journal, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	now := time.Now()
	_ = journal.Save(ctx, cycleAt("a", now))
	_ = journal.Save(ctx, cycleAt("b", now))

	n, err := journal.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 cycles, got %d", n)
	}
}

func TestJournal_Prune(t *testing.T) {
	journal, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	base := time.Now().Add(-24 * time.Hour)
	for i := 0; i < 5; i++ {
		_ = journal.Save(ctx, cycleAt(fmt.Sprintf("cycle-%d", i), base.Add(time.Duration(i)*time.Hour)))
	}

	removed, err := journal.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}

	cycles, _ := journal.Recent(ctx, 0)
	if len(cycles) != 2 || cycles[0].ID != "cycle-4" || cycles[1].ID != "cycle-3" {
		t.Errorf("Unexpected cycles after prune: %+v", cycles)
	}
}

func TestJournal_Persistence(t *testing.T) {
	// Use temp directory for persistence test
	tmpDir, err := os.MkdirTemp("", "journal-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	// Write to first instance
	{
		journal, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create journal: %v", err)
		}
		if err := journal.Save(ctx, cycleAt("persistent", time.Now())); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		journal.Close()
	}

	// Read from second instance (reopens same directory)
	{
		journal, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to reopen journal: %v", err)
		}
		defer journal.Close()

		cycles, err := journal.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(cycles) != 1 || cycles[0].ID != "persistent" {
			t.Errorf("Expected the persisted cycle, got %+v", cycles)
		}
	}
}

func TestJournal_CancelledContext(t *testing.T) {
	journal, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create journal: %v", err)
	}
	defer journal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := journal.Save(ctx, cycleAt("x", time.Now())); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestMakeKey_SortsByStartTime(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Second)

	a := makeKey(early, "zzz")
	b := makeKey(late, "aaa")
	if string(a) >= string(b) {
		t.Error("Expected earlier cycle to sort first")
	}
}
