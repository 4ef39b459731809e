package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"branchdb/pkg/access"
	"branchdb/pkg/branch"
	"branchdb/pkg/models"
	"branchdb/pkg/store"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return Handler(branch.NewService(st, access.OwnerOrShared{}))
}

// doJSON issues a request as a backend caller acting for author, the
// way a model-runner sidecar talks to the service.
func doJSON(t *testing.T, h http.Handler, method, path, author string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role-Name", "backend")
	if author != "" {
		req.Header.Set("X-Author-ID", author)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode id from %q: %v", rec.Body.String(), err)
	}
	return out.ID
}

func TestConversationLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/conversations", "alice", map[string]string{"title": "Plans", "model": "gpt-test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	conv := decodeID(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	var c models.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if c.Title != "Plans" || c.Owner != "alice" {
		t.Fatalf("conversation = %+v", c)
	}

	rec = doJSON(t, h, http.MethodPatch, "/v1/conversations/"+conv, "alice", map[string]string{"title": "New plans"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/conversations", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var listed struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Conversations) != 1 || listed.Conversations[0].Title != "New plans" {
		t.Fatalf("list = %+v", listed.Conversations)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/conversations/"+conv, "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv, "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestMessageAndBranchFlow(t *testing.T) {
	h := newTestHandler(t)
	conv := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations", "alice", map[string]string{"title": "t"}))

	rec := doJSON(t, h, http.MethodPost, "/v1/conversations/"+conv+"/messages", "alice", map[string]string{"content": "hello"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	root := decodeID(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/v1/conversations/"+conv+"/assistant-messages", "alice",
		map[string]string{"parent_id": root, "model": "gpt-test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("assistant: %d %s", rec.Code, rec.Body.String())
	}
	aid := decodeID(t, rec)

	rec = doJSON(t, h, http.MethodPatch, "/v1/messages/"+aid, "alice", map[string]any{
		"content": "answer", "status": "completed", "finish_reason": "stop",
		"usage": map[string]int64{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update assistant: %d %s", rec.Code, rec.Body.String())
	}

	// regenerate: a second assistant branch under the same parent
	rec = doJSON(t, h, http.MethodPost, "/v1/messages/"+root+"/branches", "alice", map[string]string{"content": "alt answer"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("branch: %d %s", rec.Code, rec.Body.String())
	}
	alt := decodeID(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/v1/messages/"+alt+"/branch-info", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("branch info: %d %s", rec.Code, rec.Body.String())
	}
	var info branch.BranchInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.TotalBranches != 2 || info.CurrentBranch != 2 || !info.HasPrevious || info.PreviousID != aid {
		t.Fatalf("info = %+v", info)
	}

	// switch back to the first answer
	rec = doJSON(t, h, http.MethodPost, "/v1/messages/"+aid+"/switch", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("switch: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv+"/messages", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list messages: %d", rec.Code)
	}
	var msgs struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) != 2 || msgs.Messages[0].ID != root || msgs.Messages[1].ID != aid {
		t.Fatalf("active path = %+v", msgs.Messages)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv+"/tree", "alice", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(msgs.Messages) != 3 {
		t.Fatalf("tree holds %d messages, want 3", len(msgs.Messages))
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/messages/"+aid+"/siblings", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("siblings: %d", rec.Code)
	}
}

func TestBranchWithoutBody(t *testing.T) {
	h := newTestHandler(t)
	conv := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations", "alice", map[string]string{"title": "t"}))
	root := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations/"+conv+"/messages", "alice", map[string]string{"content": "q"}))

	// a bodyless branch request is the regeneration signal: nothing is
	// written and the parent id comes back unchanged
	rec := doJSON(t, h, http.MethodPost, "/v1/messages/"+root+"/branches", "alice", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bodyless branch: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeID(t, rec); got != root {
		t.Fatalf("id = %q, want the parent %q", got, root)
	}

	var msgs struct {
		Messages []models.Message `json:"messages"`
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv+"/tree", "alice", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(msgs.Messages) != 1 {
		t.Fatalf("regeneration signal mutated the tree: %+v", msgs.Messages)
	}

	// malformed bodies are still rejected
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/"+root+"/branches", bytes.NewBufferString("{"))
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-Author-ID", "alice")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed branch body: %d", rec2.Code)
	}
}

func TestEditFeedbackDelete(t *testing.T) {
	h := newTestHandler(t)
	conv := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations", "alice", map[string]string{"title": "t"}))
	root := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations/"+conv+"/messages", "alice", map[string]string{"content": "draft"}))
	aid := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations/"+conv+"/assistant-messages", "alice",
		map[string]string{"parent_id": root, "model": "m"}))

	rec := doJSON(t, h, http.MethodPut, "/v1/messages/"+root, "alice", map[string]string{"content": "final"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/messages/"+root, "alice", nil)
	var m models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if m.Content != "final" || m.OriginalContent != "draft" || !m.IsEdited {
		t.Fatalf("edit not applied: %+v", m)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/messages/"+aid+"/feedback", "alice", map[string]string{"rating": "meh"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad rating: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/messages/"+aid+"/feedback", "alice", map[string]string{"rating": "positive", "comment": "good"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("feedback: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/messages/"+aid+"/cancel", "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/messages/"+root, "alice", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/messages/"+root, "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)
	conv := decodeID(t, doJSON(t, h, http.MethodPost, "/v1/conversations", "alice", map[string]string{"title": "t"}))

	// someone else's conversation
	rec := doJSON(t, h, http.MethodGet, "/v1/conversations/"+conv, "mallory", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign get: %d", rec.Code)
	}

	// unknown ids
	rec = doJSON(t, h, http.MethodGet, "/v1/messages/msg-nope", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing message: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/conversations/conv-nope", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing conversation: %d", rec.Code)
	}

	// backend caller without an author
	rec = doJSON(t, h, http.MethodPost, "/v1/conversations", "", map[string]string{"title": "t"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing author: %d", rec.Code)
	}

	// no role and no signed identity
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", rec2.Code)
	}

	// streaming writes are backend-only
	req = httptest.NewRequest(http.MethodPatch, "/v1/messages/msg-x", bytes.NewBufferString("{}"))
	req.Header.Set("X-Role-Name", "frontend")
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("frontend assistant patch: %d", rec2.Code)
	}

	// malformed body
	req = httptest.NewRequest(http.MethodPost, "/v1/conversations", bytes.NewBufferString("{"))
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-Author-ID", "alice")
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec2.Code)
	}
}
