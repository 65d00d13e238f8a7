package aggregation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/microbiomedata/funcagg/pkg/annotation"
	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Parser turns a result file into identifier counts.
type Parser func(io.Reader) (annotation.Counts, error)

// Fetcher opens result files. *source.Opener implements it.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Builder recomputes the aggregation of every workflow execution of a set
// of types and replaces it in the store.
type Builder struct {
	Name           string
	WorkflowTypes  []string
	Prefixes       []string // unit id prefixes used to find aggregated units
	DataObjectType string
	Parse          Parser

	source   source.Source
	store    storage.Store
	fetcher  Fetcher
	skipDone bool
	now      func() time.Time
}

// Option configures a Builder
type Option func(*Builder)

// WithSkipDone makes Run skip units that already have members.
func WithSkipDone(skip bool) Option {
	return func(b *Builder) { b.skipDone = skip }
}

// WithClock overrides the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func newBuilder(src source.Source, store storage.Store, fetcher Fetcher, opts []Option) *Builder {
	b := &Builder{
		source:  src,
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// unit is a workflow execution with its resolved result URL.
type unit struct {
	id  string
	url string
}

// Run aggregates every unit once. An error listing units is returned as is
// and leaves the store untouched. Failures of individual units are recorded
// in the report and do not stop the run. If ctx is cancelled the run stops
// between units and returns the partial report with ctx.Err().
func (b *Builder) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		ID:      uuid.NewString(),
		Builder: b.Name,
		Started: b.now(),
	}
	defer func() { report.Finished = b.now() }()

	units, err := b.units(ctx)
	if err != nil {
		return report, err
	}

	if b.skipDone {
		done, err := b.store.AggregatedUnits(ctx, b.Prefixes)
		if err != nil {
			return report, fmt.Errorf("failed to list aggregated units: %w", err)
		}
		units, report.Skipped = dropDone(units, done)
	}

	log.Printf("[%s] aggregating %d workflow executions", b.Name, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := b.aggregate(ctx, u)
		if res.Failed() {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(res.Err, ctxErr) {
				return report, ctxErr
			}
			log.Printf("[%s] %s failed: %v", b.Name, u.id, res.Err)
		}
		report.add(res)
	}

	pending, err := b.pending(ctx, units)
	if err != nil {
		log.Printf("[%s] could not verify sweep: %v", b.Name, err)
	}
	report.Pending = pending
	return report, nil
}

// pending returns the units that have no members in the store after the
// sweep. Units whose source is empty also appear here.
func (b *Builder) pending(ctx context.Context, units []unit) ([]string, error) {
	done, err := b.store.AggregatedUnits(ctx, b.Prefixes)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregated units: %w", err)
	}
	have := make(map[string]bool, len(done))
	for _, id := range done {
		have[id] = true
	}
	var out []string
	for _, u := range units {
		if !have[u.id] {
			out = append(out, u.id)
		}
	}
	return out, nil
}

// units lists the workflow executions and resolves each one's result URL.
func (b *Builder) units(ctx context.Context) ([]unit, error) {
	wfs, err := b.source.WorkflowExecutions(ctx, b.WorkflowTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow executions: %w", err)
	}

	var outputIDs []string
	for _, wf := range wfs {
		outputIDs = append(outputIDs, wf.HasOutput...)
	}
	objs, err := b.source.DataObjects(ctx, outputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list data objects: %w", err)
	}
	byID := make(map[string]source.DataObject, len(objs))
	for _, o := range objs {
		byID[o.ID] = o
	}

	units := make([]unit, 0, len(wfs))
	for _, wf := range wfs {
		outputs := make([]source.DataObject, 0, len(wf.HasOutput))
		for _, id := range wf.HasOutput {
			if o, ok := byID[id]; ok {
				outputs = append(outputs, o)
			}
		}
		units = append(units, unit{id: wf.ID, url: source.FindURL(outputs, b.DataObjectType)})
	}
	return units, nil
}

// aggregate recomputes and replaces a single unit.
func (b *Builder) aggregate(ctx context.Context, u unit) UnitResult {
	res := UnitResult{UnitID: u.id, URL: u.url}
	if u.url == "" {
		res.fail(fmt.Errorf("%w: %s", ErrMissingURL, b.DataObjectType))
		return res
	}

	counts, checksum, err := b.parse(ctx, u.url)
	if err != nil {
		res.fail(err)
		return res
	}
	res.Checksum = checksum

	members := Members(u.id, counts)
	if err := b.store.ReplaceUnit(ctx, u.id, members); err != nil {
		res.fail(err)
		return res
	}
	res.Terms = len(members)
	return res
}

// parse reads the whole file at url through the parser while hashing it.
func (b *Builder) parse(ctx context.Context, url string) (annotation.Counts, string, error) {
	rc, err := b.fetcher.Open(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	h := xxhash.New()
	counts, err := b.Parse(io.TeeReader(rc, h))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s: %w", url, err)
	}
	// parsers may stop before EOF; hash the remainder so checksums cover the file
	if _, err := io.Copy(h, rc); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return counts, fmt.Sprintf("%016x", h.Sum64()), nil
}

// Members converts counts into member documents sorted by gene_function_id.
func Members(unitID string, counts annotation.Counts) []storage.Member {
	ids := counts.IDs()
	members := make([]storage.Member, 0, len(ids))
	for _, id := range ids {
		members = append(members, storage.NewMember(unitID, id, counts[id]))
	}
	return members
}

func dropDone(units []unit, done []string) ([]unit, int) {
	skip := make(map[string]bool, len(done))
	for _, id := range done {
		skip[id] = true
	}
	kept := units[:0]
	for _, u := range units {
		if !skip[u.id] {
			kept = append(kept, u)
		}
	}
	return kept, len(units) - len(kept)
}
