// Package httpx provides JSON response helpers for the status API.
package httpx

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// RespondJSON writes data as JSON with the given status code. Data that
// cannot be encoded produces a 500 instead of a truncated body.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal Server Error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Printf("Failed to write JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

var filenameReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_", `"`, "")

// RespondBody writes an already rendered body. A non-empty attachment name is
// sent as a Content-Disposition filename with characters that are unsafe in
// file names (the ":" of NMDC ids among them) replaced.
func RespondBody(w http.ResponseWriter, contentType, attachment string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	if attachment != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filenameReplacer.Replace(attachment)))
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(body)
	return err
}
