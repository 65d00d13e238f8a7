package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/microbiomedata/funcagg/pkg/annotation"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Supported export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ErrNoMembers is returned when a unit has no aggregation members.
var ErrNoMembers = errors.New("no aggregation members")

// Exporter writes the aggregation of one unit in JSON or CSV
type Exporter struct {
	store storage.Store
	now   func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// ExportResult contains stats about the export
type ExportResult struct {
	UnitID          string    `json:"was_generated_by"`
	MembersExported int       `json:"members_exported"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Export writes the members of unitID to w in format. It returns
// ErrNoMembers, before writing anything, when the unit has no members.
func (e *Exporter) Export(ctx context.Context, w io.Writer, unitID, format string) (*ExportResult, error) {
	members, err := e.store.Members(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoMembers, unitID)
	}

	result := &ExportResult{
		UnitID:          unitID,
		MembersExported: len(members),
		Format:          format,
		ExportedAt:      e.now(),
	}

	switch format {
	case FormatJSON:
		err = writeJSON(w, result, members)
	case FormatCSV:
		err = writeCSV(w, members)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeJSON(w io.Writer, result *ExportResult, members []storage.Member) error {
	exportData := struct {
		Metadata *ExportResult               `json:"metadata"`
		Counts   map[annotation.Category]int `json:"counts_by_category"`
		Members  []storage.Member            `json:"members"`
	}{
		Metadata: result,
		Counts:   categoryCounts(members),
		Members:  members,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, members []storage.Member) error {
	writer := csv.NewWriter(w)

	header := []string{"was_generated_by", "gene_function_id", "category", "count"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, m := range members {
		row := []string{
			m.WasGeneratedBy,
			m.GeneFunctionID,
			string(annotation.CategoryOf(m.GeneFunctionID)),
			strconv.Itoa(m.Count),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// categoryCounts returns the number of distinct identifiers per category
func categoryCounts(members []storage.Member) map[annotation.Category]int {
	counts := make(map[annotation.Category]int)
	for _, m := range members {
		counts[annotation.CategoryOf(m.GeneFunctionID)]++
	}
	return counts
}
