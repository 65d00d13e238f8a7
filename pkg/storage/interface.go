package storage

import (
	"context"
	"strings"
)

// MemberType is the NMDC schema class of an aggregation member document.
const MemberType = "nmdc:FunctionalAnnotationAggMember"

// Member is one functional identifier count for one unit.
type Member struct {
	WasGeneratedBy string `json:"was_generated_by" bson:"was_generated_by"`
	GeneFunctionID string `json:"gene_function_id" bson:"gene_function_id"`
	Count          int    `json:"count" bson:"count"`
	Type           string `json:"type" bson:"type"`
}

// NewMember builds a member document for unitID.
func NewMember(unitID, geneFunctionID string, count int) Member {
	return Member{
		WasGeneratedBy: unitID,
		GeneFunctionID: geneFunctionID,
		Count:          count,
		Type:           MemberType,
	}
}

// Store defines the interface for aggregation storage backends.
type Store interface {
	// ReplaceUnit makes members the complete aggregation of unitID.
	ReplaceUnit(ctx context.Context, unitID string, members []Member) error

	// AggregatedUnits returns the distinct unit ids that have members,
	// restricted to ids starting with one of prefixes (all when empty).
	AggregatedUnits(ctx context.Context, prefixes []string) ([]string, error)

	// Members returns the members of unitID ordered by gene_function_id.
	Members(ctx context.Context, unitID string) ([]Member, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the store
	Close() error
}

// Stats provides aggregation store usage info
type Stats struct {
	TotalMembers uint64 `json:"total_members"`
	TotalUnits   uint64 `json:"total_units"`
}

// HasAnyPrefix reports whether id starts with one of prefixes. An empty
// prefix list matches everything.
func HasAnyPrefix(id string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
