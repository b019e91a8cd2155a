package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/banshee-data/roadsense/internal/monitoring"
)

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("httputil: encode %d response: %v", status, err)
	}
}

// WriteJSONOK writes data with 200 OK.
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteStatusOK writes the {"status":"ok"} acknowledgement used by the
// ingest and relay endpoints.
func WriteStatusOK(w http.ResponseWriter) {
	WriteJSONOK(w, map[string]string{"status": "ok"})
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

func Conflict(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusConflict, msg)
}

// DecodeJSONBody decodes at most limit bytes of the request body into dst.
// On failure it writes the matching error response (400 for an empty or
// malformed body, 413 past the limit) and returns false.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(dst)
	if err == nil {
		return true
	}
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		WriteJSONError(w, http.StatusRequestEntityTooLarge, "body too large")
	case errors.Is(err, io.EOF):
		BadRequest(w, "empty body")
	default:
		BadRequest(w, "invalid JSON: "+err.Error())
	}
	return false
}
