/*
Package storage provides the pluggable store for functional annotation
aggregation documents.

# Store Interface

All backends implement the Store interface:

	type Store interface {
	    ReplaceUnit(ctx context.Context, unitID string, members []Member) error
	    AggregatedUnits(ctx context.Context, prefixes []string) ([]string, error)
	    Members(ctx context.Context, unitID string) ([]Member, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Backends:
  - memory: in-process maps, used by tests and local runs
  - mongo: the NMDC MongoDB database (collection functional_annotation_agg)

# Documents

An aggregation for one workflow execution (a "unit") is stored as one
member document per functional identifier:

	{
	    "was_generated_by": "nmdc:wfmgan-11-5rqhd817.1",
	    "gene_function_id": "KEGG.ORTHOLOGY:K00001",
	    "count": 145,
	    "type": "nmdc:FunctionalAnnotationAggMember"
	}

# Replace Semantics

ReplaceUnit is a recompute-and-replace: after it returns, the unit has
exactly the given members. Identifiers absent from the new computation are
removed and an empty member list clears the unit. Running it twice with the
same members leaves the store unchanged, which is what makes a sweep
idempotent.

The memory backend also implements source.Source so a whole sweep can run
in-process.
*/
package storage
