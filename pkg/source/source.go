// Package source defines read access to NMDC workflow and data object
// records, and to the result files those records point at.
package source

import "context"

// Workflow is a workflow execution record. Its ID is the aggregation unit key.
type Workflow struct {
	ID        string   `json:"id" bson:"id"`
	Type      string   `json:"type" bson:"type"`
	HasOutput []string `json:"has_output,omitempty" bson:"has_output,omitempty"`
}

// DataObject is a data object record describing one workflow output file.
type DataObject struct {
	ID             string `json:"id" bson:"id"`
	DataObjectType string `json:"data_object_type,omitempty" bson:"data_object_type,omitempty"`
	URL            string `json:"url,omitempty" bson:"url,omitempty"`
}

// Source reads workflow executions and data objects.
// Implementations: mongo (direct database access), nmdc (runtime API).
type Source interface {
	// WorkflowExecutions returns every workflow execution whose type is one of types.
	WorkflowExecutions(ctx context.Context, types []string) ([]Workflow, error)

	// DataObjects returns the data objects with the given ids. Unknown ids
	// are silently absent from the result.
	DataObjects(ctx context.Context, ids []string) ([]DataObject, error)
}

// FindURL returns the URL of the first data object of the given type, or ""
// when none matches. Records without a type are skipped.
func FindURL(objects []DataObject, dataObjectType string) string {
	for _, do := range objects {
		if do.DataObjectType == "" {
			continue
		}
		if do.DataObjectType == dataObjectType && do.URL != "" {
			return do.URL
		}
	}
	return ""
}
