// Package mongo implements storage.Store and source.Source on the NMDC
// MongoDB database.
package mongo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/microbiomedata/funcagg/pkg/source"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Collection names in the nmdc database.
const (
	CollectionAggregation        = "functional_annotation_agg"
	CollectionWorkflowExecutions = "workflow_execution_set"
	CollectionDataObjects        = "data_object_set"
)

// writeBatch bounds the number of upserts per BulkWrite call.
const writeBatch = 1000

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements storage.Store and source.Source using MongoDB
type Store struct {
	client      *mongo.Client
	agg         *mongo.Collection
	workflows   *mongo.Collection
	dataObjects *mongo.Collection
}

var (
	_ storage.Store = (*Store)(nil)
	_ source.Source = (*Store)(nil)
)

// New connects to MongoDB and verifies the connection with a ping.
// Single-host URIs use a direct connection unless the URI says otherwise.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo uri: %w", err)
	}
	if opts.Direct == nil && len(opts.Hosts) == 1 && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		opts.SetDirect(true)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return newStore(client, client.Database(cfg.Database)), nil
}

func newStore(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:      client,
		agg:         db.Collection(CollectionAggregation),
		workflows:   db.Collection(CollectionWorkflowExecutions),
		dataObjects: db.Collection(CollectionDataObjects),
	}
}

// WorkflowExecutions implements source.Source.
func (s *Store) WorkflowExecutions(ctx context.Context, types []string) ([]source.Workflow, error) {
	cur, err := s.workflows.Find(ctx,
		bson.M{"type": bson.M{"$in": types}},
		options.Find().SetProjection(bson.M{"_id": 0, "id": 1, "type": 1, "has_output": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", CollectionWorkflowExecutions, err)
	}
	var out []source.Workflow
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", CollectionWorkflowExecutions, err)
	}
	return out, nil
}

// DataObjects implements source.Source.
func (s *Store) DataObjects(ctx context.Context, ids []string) ([]source.DataObject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cur, err := s.dataObjects.Find(ctx,
		bson.M{"id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"_id": 0, "id": 1, "data_object_type": 1, "url": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", CollectionDataObjects, err)
	}
	var objs []source.DataObject
	if err := cur.All(ctx, &objs); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", CollectionDataObjects, err)
	}
	return orderByIDs(objs, ids), nil
}

// ReplaceUnit upserts every member keyed by (was_generated_by,
// gene_function_id) and then removes the unit's members that are not in the
// new set. Re-running with the same members is a no-op.
func (s *Store) ReplaceUnit(ctx context.Context, unitID string, members []storage.Member) error {
	models, ids := upsertModels(unitID, members)

	for start := 0; start < len(models); start += writeBatch {
		end := min(start+writeBatch, len(models))
		if _, err := s.agg.BulkWrite(ctx, models[start:end], options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("failed to write aggregation for %s: %w", unitID, err)
		}
	}

	if _, err := s.agg.DeleteMany(ctx, staleFilter(unitID, ids)); err != nil {
		return fmt.Errorf("failed to remove stale aggregation members for %s: %w", unitID, err)
	}
	return nil
}

// AggregatedUnits implements storage.Store using distinct was_generated_by.
func (s *Store) AggregatedUnits(ctx context.Context, prefixes []string) ([]string, error) {
	values, err := s.agg.Distinct(ctx, "was_generated_by", prefixFilter(prefixes))
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregated units: %w", err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Members implements storage.Store.
func (s *Store) Members(ctx context.Context, unitID string) ([]storage.Member, error) {
	cur, err := s.agg.Find(ctx,
		bson.M{"was_generated_by": unitID},
		options.Find().
			SetSort(bson.M{"gene_function_id": 1}).
			SetProjection(bson.M{"_id": 0}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query members of %s: %w", unitID, err)
	}
	var out []storage.Member
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", unitID, err)
	}
	return out, nil
}

// Stats implements storage.Store.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	total, err := s.agg.EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count aggregation members: %w", err)
	}
	units, err := s.agg.Distinct(ctx, "was_generated_by", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to count aggregated units: %w", err)
	}
	return &storage.Stats{TotalMembers: uint64(total), TotalUnits: uint64(len(units))}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func upsertModels(unitID string, members []storage.Member) ([]mongo.WriteModel, []string) {
	models := make([]mongo.WriteModel, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		typ := m.Type
		if typ == "" {
			typ = storage.MemberType
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"was_generated_by": unitID, "gene_function_id": m.GeneFunctionID}).
			SetUpdate(bson.M{"$set": bson.M{"count": m.Count, "type": typ}}).
			SetUpsert(true))
		ids = append(ids, m.GeneFunctionID)
	}
	return models, ids
}

func staleFilter(unitID string, keep []string) bson.M {
	if len(keep) == 0 {
		return bson.M{"was_generated_by": unitID}
	}
	return bson.M{"was_generated_by": unitID, "gene_function_id": bson.M{"$nin": keep}}
}

// prefixFilter anchors each prefix so the regex can use the index.
func prefixFilter(prefixes []string) bson.M {
	if len(prefixes) == 0 {
		return bson.M{}
	}
	or := make(bson.A, 0, len(prefixes))
	for _, p := range prefixes {
		or = append(or, bson.M{"was_generated_by": bson.M{"$regex": "^" + regexp.QuoteMeta(p)}})
	}
	return bson.M{"$or": or}
}

// orderByIDs returns objs in the order their ids appear in ids.
func orderByIDs(objs []source.DataObject, ids []string) []source.DataObject {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, seen := pos[id]; !seen {
			pos[id] = i
		}
	}
	sort.SliceStable(objs, func(i, j int) bool { return pos[objs[i].ID] < pos[objs[j].ID] })
	return objs
}
