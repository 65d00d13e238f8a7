package memory

import (
	"context"
	"reflect"
	"testing"

	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

func TestMemoryStorage_ReplaceAndMembers(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()

	members := []storage.Member{
		storage.NewMember("nmdc:wfmgan-1", "PFAM:PF00001", 2),
		storage.NewMember("nmdc:wfmgan-1", "COG:COG0001", 5),
	}
	if err := store.ReplaceUnit(ctx, "nmdc:wfmgan-1", members); err != nil {
		t.Fatalf("ReplaceUnit failed: %v", err)
	}

	got, err := store.Members(ctx, "nmdc:wfmgan-1")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	want := []storage.Member{
		storage.NewMember("nmdc:wfmgan-1", "COG:COG0001", 5),
		storage.NewMember("nmdc:wfmgan-1", "PFAM:PF00001", 2),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Members = %+v, want %+v", got, want)
	}
}

func TestMemoryStorage_ReplaceRemovesStaleMembers(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.ReplaceUnit(ctx, "u", []storage.Member{
		storage.NewMember("u", "COG:COG0001", 1),
		storage.NewMember("u", "COG:COG0002", 1),
	})
	_ = store.ReplaceUnit(ctx, "u", []storage.Member{
		storage.NewMember("u", "COG:COG0002", 7),
	})

	got, _ := store.Members(ctx, "u")
	if len(got) != 1 || got[0].GeneFunctionID != "COG:COG0002" || got[0].Count != 7 {
		t.Errorf("after replace got %+v, want only COG:COG0002=7", got)
	}

	// Empty replacement clears the unit.
	_ = store.ReplaceUnit(ctx, "u", nil)
	units, _ := store.AggregatedUnits(ctx, nil)
	if len(units) != 0 {
		t.Errorf("AggregatedUnits = %v, want none", units)
	}
}

func TestMemoryStorage_AggregatedUnitsPrefixes(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"nmdc:wfmgan-1", "nmdc:wfmtan-1", "nmdc:wfmp-1"} {
		_ = store.ReplaceUnit(ctx, id, []storage.Member{storage.NewMember(id, "COG:COG0001", 1)})
	}

	got, err := store.AggregatedUnits(ctx, []string{"nmdc:wfmgan", "nmdc:wfmtan"})
	if err != nil {
		t.Fatalf("AggregatedUnits failed: %v", err)
	}
	want := []string{"nmdc:wfmgan-1", "nmdc:wfmtan-1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AggregatedUnits = %v, want %v", got, want)
	}

	stats, _ := store.Stats(ctx)
	if stats.TotalUnits != 3 || stats.TotalMembers != 3 {
		t.Errorf("Stats = %+v, want 3 units / 3 members", stats)
	}
}

func TestMemoryStorage_Source(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.AddWorkflow(
		source.Workflow{ID: "nmdc:wfmgan-1", Type: "nmdc:MetagenomeAnnotation", HasOutput: []string{"nmdc:dobj-1"}},
		source.Workflow{ID: "nmdc:wfmp-1", Type: "nmdc:MetaproteomicsAnalysis"},
	)
	store.AddDataObject(source.DataObject{ID: "nmdc:dobj-1", DataObjectType: "Functional Annotation GFF", URL: "https://h/fa.gff"})

	wfs, err := store.WorkflowExecutions(ctx, []string{"nmdc:MetagenomeAnnotation"})
	if err != nil {
		t.Fatalf("WorkflowExecutions failed: %v", err)
	}
	if len(wfs) != 1 || wfs[0].ID != "nmdc:wfmgan-1" {
		t.Errorf("WorkflowExecutions = %+v", wfs)
	}

	objs, _ := store.DataObjects(ctx, []string{"nmdc:dobj-1", "nmdc:dobj-missing"})
	if len(objs) != 1 || objs[0].URL != "https://h/fa.gff" {
		t.Errorf("DataObjects = %+v", objs)
	}
}

func TestMemoryStorage_ContextCancelled(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.ReplaceUnit(ctx, "u", nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}
