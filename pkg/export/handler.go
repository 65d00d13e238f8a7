package export

import (
	"bytes"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/microbiomedata/funcagg/pkg/httpx"
	"github.com/microbiomedata/funcagg/pkg/storage"
)

// Handler serves aggregation exports over HTTP
type Handler struct {
	exporter *Exporter
}

// NewHandler creates a new export handler
func NewHandler(store storage.Store) *Handler {
	return &Handler{exporter: NewExporter(store)}
}

// HandleExport handles GET /v1/aggregations/{id}
// Query params:
//   - format: "json" or "csv" (default: json)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	unitID := mux.Vars(r)["id"]
	if unitID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "missing workflow execution id")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	// Buffered so a store error can still produce a JSON error response.
	var body bytes.Buffer
	result, err := h.exporter.Export(r.Context(), &body, unitID, format)
	if err != nil {
		if errors.Is(err, ErrNoMembers) {
			httpx.RespondError(w, http.StatusNotFound, err)
			return
		}
		log.Printf("Export of %s failed: %v", unitID, err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	contentType, attachment := "application/json", ""
	if format == FormatCSV {
		contentType, attachment = "text/csv", unitID+".csv"
	}
	if err := httpx.RespondBody(w, contentType, attachment, body.Bytes()); err != nil {
		log.Printf("Failed to write export of %s: %v", unitID, err)
		return
	}

	log.Printf("Exported %d members of %s (%s)", result.MembersExported, unitID, format)
}
