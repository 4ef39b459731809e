package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"branchdb/pkg/models"
	"branchdb/pkg/utils"
	"branchdb/pkg/validation"

	"github.com/gorilla/mux"
)

// RegisterBranches registers branch navigation endpoints on r, which is
// expected to be the /v1 subrouter.
func (a *API) RegisterBranches(r *mux.Router) {
	r.HandleFunc("/messages/{id}/branches", a.createBranch).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/switch", a.switchBranch).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/branch-info", a.branchInfo).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}/siblings", a.siblings).Methods(http.MethodGet)
}

func (a *API) createBranch(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string `json:"content,omitempty"`
	}
	// a bodyless POST is the regeneration signal; only malformed JSON is rejected
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateContent(body.Content, nil); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.CreateBranch(r.Context(), author, mux.Vars(r)["id"], body.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) switchBranch(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := a.svc.SwitchBranch(r.Context(), author, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) branchInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.svc.GetBranchInfo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, info)
}

func (a *API) siblings(w http.ResponseWriter, r *http.Request) {
	sibs, err := a.svc.GetSiblings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Siblings []models.Message `json:"siblings"`
	}{Siblings: sibs})
}
