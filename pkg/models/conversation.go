package models

// Conversation groups a message forest and carries aggregate counters
// maintained by the message creation path.
type Conversation struct {
	ID string `json:"id"`
	// Owner is an opaque identity id (clients manage meaning)
	Owner string `json:"owner"`
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
	// Shared conversations are readable by any authenticated caller.
	Shared bool `json:"shared,omitempty"`

	MessageCount  int   `json:"message_count"`
	TotalTokens   int64 `json:"total_tokens,omitempty"`
	LastMessageTS int64 `json:"last_message_ts,omitempty"`

	// DeletedTS marks a conversation as soft-deleted (ns); 0 means live.
	DeletedTS int64 `json:"deleted_ts,omitempty"`
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts"`
}

// Live reports whether the conversation has not been soft-deleted.
func (c *Conversation) Live() bool { return c.DeletedTS == 0 }

// ConversationPatch is a partial update applied atomically to one
// conversation. Count fields are deltas; nil pointer fields are left
// untouched.
type ConversationPatch struct {
	Title         *string
	MessageCount  int
	TotalTokens   int64
	LastMessageTS int64
	DeletedTS     *int64
	UpdatedTS     int64
}

// Apply copies the set fields of the patch onto c.
func (p ConversationPatch) Apply(c *Conversation) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	c.MessageCount += p.MessageCount
	c.TotalTokens += p.TotalTokens
	if p.LastMessageTS != 0 {
		c.LastMessageTS = p.LastMessageTS
	}
	if p.DeletedTS != nil {
		c.DeletedTS = *p.DeletedTS
	}
	if p.UpdatedTS != 0 {
		c.UpdatedTS = p.UpdatedTS
	}
}
