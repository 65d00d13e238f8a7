package nmdc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/microbiomedata/funcagg/pkg/storage"
)

const aggregationPageSize = 1000

// ErrAlreadyAggregated is returned when a unit that already has members would
// be submitted with different ones. The submission endpoint only inserts.
var ErrAlreadyAggregated = errors.New("unit already has different members")

// Sink is a storage.Store that writes members through the submission
// endpoint and reads them back from functional_annotation_agg.
//
// The API cannot delete, so a unit can be written once. Run builders with
// skip-done so already aggregated units are never recomputed.
type Sink struct {
	client *Client
}

var _ storage.Store = (*Sink)(nil)

// NewSink creates a Sink backed by client.
func NewSink(client *Client) *Sink {
	return &Sink{client: client}
}

// ReplaceUnit submits members for a unit without members. Submitting the
// same members again is a no-op.
func (s *Sink) ReplaceUnit(ctx context.Context, unitID string, members []storage.Member) error {
	existing, err := s.Members(ctx, unitID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if sameMembers(existing, members) {
			return nil
		}
		return fmt.Errorf("%s: %w", unitID, ErrAlreadyAggregated)
	}
	if len(members) == 0 {
		return nil
	}
	return s.client.Submit(ctx, map[string]any{CollectionAggregation: members})
}

// AggregatedUnits returns the distinct was_generated_by values matching prefixes.
func (s *Sink) AggregatedUnits(ctx context.Context, prefixes []string) ([]string, error) {
	filter, err := prefixFilter(prefixes)
	if err != nil {
		return nil, err
	}
	members, err := s.query(ctx, filter, []string{"was_generated_by"})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, m := range members {
		seen[m.WasGeneratedBy] = struct{}{}
	}
	units := make([]string, 0, len(seen))
	for id := range seen {
		units = append(units, id)
	}
	sort.Strings(units)
	return units, nil
}

// Members returns the members of unitID ordered by gene_function_id.
func (s *Sink) Members(ctx context.Context, unitID string) ([]storage.Member, error) {
	filter, err := json.Marshal(map[string]string{"was_generated_by": unitID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}
	members, err := s.query(ctx, string(filter), []string{"was_generated_by", "gene_function_id", "count", "type"})
	if err != nil {
		return nil, err
	}
	sort.Slice(members, func(i, j int) bool { return members[i].GeneFunctionID < members[j].GeneFunctionID })
	return members, nil
}

// Stats counts members and units by reading the whole collection.
func (s *Sink) Stats(ctx context.Context) (*storage.Stats, error) {
	members, err := s.query(ctx, "", []string{"was_generated_by"})
	if err != nil {
		return nil, err
	}
	units := make(map[string]struct{})
	for _, m := range members {
		units[m.WasGeneratedBy] = struct{}{}
	}
	return &storage.Stats{TotalMembers: uint64(len(members)), TotalUnits: uint64(len(units))}, nil
}

// Close is a no-op; the client holds no connections of its own.
func (s *Sink) Close() error {
	return nil
}

func (s *Sink) query(ctx context.Context, filter string, projection []string) ([]storage.Member, error) {
	raw, err := s.client.Results(ctx, CollectionAggregation, Query{
		Filter:      filter,
		MaxPageSize: aggregationPageSize,
		Projection:  projection,
	})
	if err != nil {
		return nil, err
	}
	return decodeAll[storage.Member](raw)
}

func prefixFilter(prefixes []string) (string, error) {
	if len(prefixes) == 0 {
		return "", nil
	}
	or := make([]map[string]any, 0, len(prefixes))
	for _, p := range prefixes {
		or = append(or, map[string]any{"was_generated_by": map[string]string{"$regex": "^" + regexp.QuoteMeta(p)}})
	}
	b, err := json.Marshal(map[string]any{"$or": or})
	if err != nil {
		return "", fmt.Errorf("failed to encode filter: %w", err)
	}
	return string(b), nil
}

func sameMembers(existing, members []storage.Member) bool {
	want := slices.Clone(members)
	sort.Slice(want, func(i, j int) bool { return want[i].GeneFunctionID < want[j].GeneFunctionID })
	return slices.EqualFunc(existing, want, func(a, b storage.Member) bool {
		return a.WasGeneratedBy == b.WasGeneratedBy && a.GeneFunctionID == b.GeneFunctionID && a.Count == b.Count
	})
}
