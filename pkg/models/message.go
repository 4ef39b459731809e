package models

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message statuses.
const (
	StatusPending   = "pending"
	StatusStreaming = "streaming"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Message is a single turn in a conversation. Messages form a forest:
// each message optionally points at a parent, and siblings under one
// parent are alternative branches (edits, regenerations).
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	// Author is an opaque identity id (clients manage meaning)
	Author string `json:"author,omitempty"`
	Role   string `json:"role"`

	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
	Status  string `json:"status,omitempty"`

	Model         string `json:"model,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
	FinishReason  string `json:"finish_reason,omitempty"`
	Usage         *Usage `json:"usage,omitempty"`
	LatencyMs     int64  `json:"latency_ms,omitempty"`

	// ParentID links the message into the tree; empty for roots.
	// Never changes after insertion.
	ParentID string `json:"parent_id,omitempty"`
	// BranchIndex is the ordinal among siblings at creation time.
	// Never changes after insertion.
	BranchIndex int `json:"branch_index"`
	// IsActiveBranch marks the displayed path. nil on records created
	// before branching existed; treated as active.
	IsActiveBranch *bool `json:"is_active_branch,omitempty"`

	Feedback        *Feedback `json:"feedback,omitempty"`
	OriginalContent string    `json:"original_content,omitempty"`
	IsEdited        bool      `json:"is_edited,omitempty"`
	EditedTS        int64     `json:"edited_ts,omitempty"`

	// DeletedTS is the soft-delete marker (ns); 0 means live.
	DeletedTS int64 `json:"deleted_ts,omitempty"`
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts"`
}

// Live reports whether the message has not been soft-deleted.
func (m *Message) Live() bool { return m.DeletedTS == 0 }

// Active reports whether the message lies on the displayed path. An
// unset flag counts as active for legacy records.
func (m *Message) Active() bool { return m.IsActiveBranch == nil || *m.IsActiveBranch }

// Part is one segment of a message payload.
type Part struct {
	Type string `json:"type"` // text | reasoning | file | tool-invocation | image | source
	Text string `json:"text,omitempty"`

	MediaType string `json:"media_type,omitempty"`
	Filename  string `json:"filename,omitempty"`
	URL       string `json:"url,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	State      string `json:"state,omitempty"`
}

// TextPart builds the default single-text parts slice for a content string.
func TextPart(content string) []Part {
	return []Part{{Type: "text", Text: content}}
}

// Usage records token accounting for one assistant completion.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	ReasoningTokens  int64 `json:"reasoning_tokens,omitempty"`
	CachedTokens     int64 `json:"cached_tokens,omitempty"`
}

// Feedback is a user rating on an assistant message.
type Feedback struct {
	Rating     string `json:"rating"` // positive | negative
	Comment    string `json:"comment,omitempty"`
	FeedbackTS int64  `json:"feedback_ts"`
}

// MessagePatch is a partial update applied atomically to one message.
// Nil fields are left untouched. ParentID and BranchIndex are absent on
// purpose: lineage is immutable after insertion.
type MessagePatch struct {
	IsActiveBranch  *bool
	Content         *string
	Parts           []Part
	Status          *string
	FinishReason    *string
	Usage           *Usage
	LatencyMs       *int64
	Feedback        *Feedback
	OriginalContent *string
	IsEdited        *bool
	EditedTS        *int64
	DeletedTS       *int64
	UpdatedTS       int64
}

// Apply copies the set fields of the patch onto m.
func (p MessagePatch) Apply(m *Message) {
	if p.IsActiveBranch != nil {
		m.IsActiveBranch = p.IsActiveBranch
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Parts != nil {
		m.Parts = p.Parts
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.FinishReason != nil {
		m.FinishReason = *p.FinishReason
	}
	if p.Usage != nil {
		m.Usage = p.Usage
	}
	if p.LatencyMs != nil {
		m.LatencyMs = *p.LatencyMs
	}
	if p.Feedback != nil {
		m.Feedback = p.Feedback
	}
	if p.OriginalContent != nil {
		m.OriginalContent = *p.OriginalContent
	}
	if p.IsEdited != nil {
		m.IsEdited = *p.IsEdited
	}
	if p.EditedTS != nil {
		m.EditedTS = *p.EditedTS
	}
	if p.DeletedTS != nil {
		m.DeletedTS = *p.DeletedTS
	}
	if p.UpdatedTS != 0 {
		m.UpdatedTS = p.UpdatedTS
	}
}

// Bool returns a pointer to b, for use with MessagePatch and
// Message.IsActiveBranch.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
