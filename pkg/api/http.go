package api

import (
	"net/http"

	"branchdb/pkg/api/handlers"
	"branchdb/pkg/branch"

	"github.com/gorilla/mux"
)

// Handler assembles the versioned API router over the branching engine.
func Handler(svc *branch.Service) http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	h := handlers.New(svc)
	h.RegisterConversations(v1)
	h.RegisterMessages(v1)
	h.RegisterBranches(v1)
	return r
}
