// Package handlers implements the HTTP endpoints over the branching
// engine. Errors from the engine map onto status codes in one place
// (writeErr); handlers stay thin.
package handlers

import (
	"errors"
	"net/http"

	"branchdb/pkg/auth"
	"branchdb/pkg/branch"
	"branchdb/pkg/utils"
)

// API bundles the handler set around one engine instance.
type API struct {
	svc *branch.Service
}

// New returns an API serving the given engine.
func New(svc *branch.Service) *API {
	return &API{svc: svc}
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, branch.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, branch.ErrAccessDenied):
		utils.JSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, branch.ErrUnauthenticated):
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// caller resolves the authenticated author or writes the error response
// and returns false.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, status, msg := auth.ResolveAuthor(r)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return "", false
	}
	return id, true
}
