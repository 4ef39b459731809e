package branch

import (
	"context"

	"branchdb/pkg/models"
)

// Tx is the narrow view of the message store the branching engine runs
// against. All calls within one Tx observe the transaction's own writes;
// lookups that miss return ErrNotFound.
type Tx interface {
	GetMessage(id string) (*models.Message, error)
	// ListByParent returns every message whose parent_id equals parentID,
	// in no guaranteed order. Soft-deleted messages are included; callers
	// filter.
	ListByParent(parentID string) ([]models.Message, error)
	// ListRoots returns every parentless message of the given role in the
	// conversation.
	ListRoots(conversationID, role string) ([]models.Message, error)
	// ListByConversation returns every message in the conversation in
	// creation order.
	ListByConversation(conversationID string) ([]models.Message, error)
	InsertMessage(m *models.Message) (string, error)
	PatchMessage(id string, p models.MessagePatch) error

	GetConversation(id string) (*models.Conversation, error)
	ListConversations(owner string) ([]models.Conversation, error)
	InsertConversation(c *models.Conversation) (string, error)
	PatchConversation(id string, p models.ConversationPatch) error
}

// Store hands out transactions. Update runs fn as a single all-or-nothing
// unit: either every write fn issued is persisted, or none is. Concurrent
// readers never observe a partially applied branch walk.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// AccessPolicy decides whether a caller may use a conversation. The
// policy sees the conversation record already resolved inside the same
// transaction as the operation it guards.
type AccessPolicy interface {
	CanAccess(c *models.Conversation, callerID string) bool
}
