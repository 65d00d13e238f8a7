package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Storage keeps aggregation members, workflow executions and data objects
// in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu          sync.RWMutex
	members     map[string]map[string]storage.Member
	workflows   []source.Workflow
	dataObjects map[string]source.DataObject
	writes      int
}

var (
	_ storage.Store = (*Storage)(nil)
	_ source.Source = (*Storage)(nil)
)

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		members:     make(map[string]map[string]storage.Member),
		dataObjects: make(map[string]source.DataObject),
	}
}

// AddWorkflow registers workflow execution records.
func (s *Storage) AddWorkflow(wfs ...source.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = append(s.workflows, wfs...)
}

// AddDataObject registers data object records.
func (s *Storage) AddDataObject(objs ...source.DataObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range objs {
		s.dataObjects[o.ID] = o
	}
}

// WorkflowExecutions returns registered workflows of the given types in
// registration order.
func (s *Storage) WorkflowExecutions(ctx context.Context, types []string) ([]source.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []source.Workflow
	for _, wf := range s.workflows {
		if want[wf.Type] {
			out = append(out, wf)
		}
	}
	return out, nil
}

// DataObjects returns the registered data objects among ids.
func (s *Storage) DataObjects(ctx context.Context, ids []string) ([]source.DataObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []source.DataObject
	for _, id := range ids {
		if o, ok := s.dataObjects[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// ReplaceUnit stores members as the complete aggregation of unitID
func (s *Storage) ReplaceUnit(ctx context.Context, unitID string, members []storage.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if len(members) == 0 {
		delete(s.members, unitID)
		return nil
	}
	unit := make(map[string]storage.Member, len(members))
	for _, m := range members {
		m.WasGeneratedBy = unitID
		unit[m.GeneFunctionID] = m
	}
	s.members[unitID] = unit
	return nil
}

// AggregatedUnits returns sorted unit ids that have members
func (s *Storage) AggregatedUnits(ctx context.Context, prefixes []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id := range s.members {
		if storage.HasAnyPrefix(id, prefixes) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Members returns the members of unitID ordered by gene_function_id
func (s *Storage) Members(ctx context.Context, unitID string) ([]storage.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit := s.members[unitID]
	out := make([]storage.Member, 0, len(unit))
	for _, m := range unit {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneFunctionID < out[j].GeneFunctionID })
	return out, nil
}

// Writes returns how many ReplaceUnit calls have been applied.
func (s *Storage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalUnits: uint64(len(s.members))}
	for _, unit := range s.members {
		stats.TotalMembers += uint64(len(unit))
	}
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
