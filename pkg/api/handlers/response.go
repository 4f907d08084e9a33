package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every API response. Status is "healthy",
// "unhealthy" or "ok"; Error is set when unhealthy.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// respond writes the envelope as JSON with the given HTTP code.
func respond(w http.ResponseWriter, code int, status string, data any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// The header is sent; an encoding error can only truncate the body.
	_ = json.NewEncoder(w).Encode(Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	})
}

func healthy(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, "healthy", data, "")
}

func unhealthy(w http.ResponseWriter, errMsg string, data any) {
	respond(w, http.StatusServiceUnavailable, "unhealthy", data, errMsg)
}
