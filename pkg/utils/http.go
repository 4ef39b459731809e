// Package utils holds the small HTTP response helpers shared by the
// API handlers and the auth gateway.
package utils

import (
	"encoding/json"
	"net/http"
)

// JSONError writes an {"error": message} body with the given status
// code. Every error surface of the service goes through here so clients
// see one error shape.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite encodes v as a JSON response with the given status code; a
// zero status leaves net/http's default 200.
func JSONWrite(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}
