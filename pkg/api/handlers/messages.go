package handlers

import (
	"encoding/json"
	"net/http"

	"branchdb/pkg/branch"
	"branchdb/pkg/models"
	"branchdb/pkg/utils"
	"branchdb/pkg/validation"

	"github.com/gorilla/mux"
)

// RegisterMessages registers message-scoped endpoints on r, which is
// expected to be the /v1 subrouter.
func (a *API) RegisterMessages(r *mux.Router) {
	r.HandleFunc("/messages/{id}", a.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", a.editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", a.updateAssistant).Methods(http.MethodPatch)
	r.HandleFunc("/messages/{id}", a.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/feedback", a.addFeedback).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/cancel", a.cancelStreaming).Methods(http.MethodPost)
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	m, err := a.svc.GetMessage(r.Context(), author, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Content string        `json:"content"`
		Parts   []models.Part `json:"parts,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateContent(body.Content, body.Parts); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.EditUserMessage(r.Context(), author, mux.Vars(r)["id"], body.Content, body.Parts)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"id": id})
}

// updateAssistant is the streaming write path. It requires a backend or
// admin key: model runners, not end users, fill in assistant turns.
func (a *API) updateAssistant(w http.ResponseWriter, r *http.Request) {
	role := r.Header.Get("X-Role-Name")
	if role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body struct {
		Parts        []models.Part `json:"parts,omitempty"`
		Content      *string       `json:"content,omitempty"`
		Status       *string       `json:"status,omitempty"`
		FinishReason *string       `json:"finish_reason,omitempty"`
		Usage        *models.Usage `json:"usage,omitempty"`
		LatencyMs    *int64        `json:"latency_ms,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	err := a.svc.UpdateAssistantMessage(r.Context(), mux.Vars(r)["id"], branch.AssistantUpdate{
		Parts:        body.Parts,
		Content:      body.Content,
		Status:       body.Status,
		FinishReason: body.FinishReason,
		Usage:        body.Usage,
		LatencyMs:    body.LatencyMs,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.Remove(r.Context(), author, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) addFeedback(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Rating  string `json:"rating"`
		Comment string `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateFeedbackRating(body.Rating); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.AddFeedback(r.Context(), author, mux.Vars(r)["id"], body.Rating, body.Comment); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) cancelStreaming(w http.ResponseWriter, r *http.Request) {
	role := r.Header.Get("X-Role-Name")
	if role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := a.svc.CancelStreaming(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
