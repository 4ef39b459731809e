package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"branchdb/pkg/models"
	"branchdb/pkg/utils"
	"branchdb/pkg/validation"

	"github.com/gorilla/mux"
)

// RegisterConversations registers conversation-scoped endpoints on r,
// which is expected to be the /v1 subrouter.
func (a *API) RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", a.createConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", a.getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", a.renameConversation).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}", a.deleteConversation).Methods(http.MethodDelete)

	r.HandleFunc("/conversations/{id}/messages", a.sendUserMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/tree", a.listTree).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/assistant-messages", a.createAssistantMessage).Methods(http.MethodPost)
}

func (a *API) createConversation(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Title string `json:"title"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateTitle(body.Title); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.CreateConversation(r.Context(), author, body.Title, body.Model)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	convs, err := a.svc.ListConversations(r.Context(), author)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.Conversation `json:"conversations"`
	}{Conversations: convs})
}

func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	c, err := a.svc.GetConversation(r.Context(), author, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func (a *API) renameConversation(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateTitle(body.Title); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.RenameConversation(r.Context(), author, mux.Vars(r)["id"], body.Title); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteConversation(r.Context(), author, mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sendUserMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		Content  string        `json:"content"`
		Parts    []models.Part `json:"parts,omitempty"`
		ParentID string        `json:"parent_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateContent(body.Content, body.Parts); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.svc.SendUserMessage(r.Context(), author, mux.Vars(r)["id"], body.Content, body.Parts, body.ParentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	msgs, err := a.svc.List(r.Context(), author, mux.Vars(r)["id"], limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}

func (a *API) listTree(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	msgs, err := a.svc.ListWithBranches(r.Context(), author, mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: msgs})
}

func (a *API) createAssistantMessage(w http.ResponseWriter, r *http.Request) {
	author, ok := caller(w, r)
	if !ok {
		return
	}
	var body struct {
		ParentID      string `json:"parent_id"`
		Model         string `json:"model"`
		ModelProvider string `json:"model_provider,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.ParentID == "" {
		utils.JSONError(w, http.StatusBadRequest, "parent_id is required")
		return
	}
	id, err := a.svc.CreateAssistantMessage(r.Context(), author, mux.Vars(r)["id"], body.ParentID, body.Model, body.ModelProvider)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{"id": id})
}
