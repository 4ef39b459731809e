package branch

import (
	"context"
	"fmt"
	"time"

	"branchdb/pkg/logger"
	"branchdb/pkg/models"
	"branchdb/pkg/telemetry"
)

// Service is the branching engine. All operations take an explicit
// caller id; access decisions are delegated to the configured policy.
type Service struct {
	store  Store
	access AccessPolicy
	now    func() int64
}

// NewService builds a Service on top of the given store and access policy.
func NewService(store Store, access AccessPolicy) *Service {
	return &Service{
		store:  store,
		access: access,
		now:    func() int64 { return time.Now().UTC().UnixNano() },
	}
}

// verifyAccess resolves the conversation inside tx and checks the caller
// against the access policy.
func (s *Service) verifyAccess(tx Tx, conversationID, callerID string) (*models.Conversation, error) {
	conv, err := tx.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Live() {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if !s.access.CanAccess(conv, callerID) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrAccessDenied)
	}
	return conv, nil
}

// siblingsOf resolves the branch sibling set of m: messages sharing its
// parent or, for roots, parentless messages of the same role in the
// conversation. Root resolution groups by role; non-root resolution
// does not.
func siblingsOf(tx Tx, m *models.Message) ([]models.Message, error) {
	if m.ParentID != "" {
		return tx.ListByParent(m.ParentID)
	}
	return tx.ListRoots(m.ConversationID, m.Role)
}

// nextBranchIndex returns the ordinal for a new sibling: the count of
// live messages already in the set. See the package doc for the known
// numbering race under concurrent creation.
func nextBranchIndex(siblings []models.Message) int {
	n := 0
	for i := range siblings {
		if siblings[i].Live() {
			n++
		}
	}
	return n
}

// deactivateSubtree clears the active flag on id and every live
// descendant. Recursion is depth-first through the parent index; order
// does not matter since it only ever writes false, and it is safe to
// call on already-inactive subtrees.
func deactivateSubtree(tx Tx, id string) error {
	if err := tx.PatchMessage(id, models.MessagePatch{IsActiveBranch: models.Bool(false)}); err != nil {
		return err
	}
	children, err := tx.ListByParent(id)
	if err != nil {
		return err
	}
	for i := range children {
		if !children[i].Live() {
			continue
		}
		if err := deactivateSubtree(tx, children[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// activateSubtree sets the active flag on id and descends a single path:
// at each level the live child with the greatest creation time wins, so
// a freshly created branch is what gets displayed. Unselected children
// are left untouched; callers deactivate siblings separately.
func activateSubtree(tx Tx, id string) error {
	if err := tx.PatchMessage(id, models.MessagePatch{IsActiveBranch: models.Bool(true)}); err != nil {
		return err
	}
	children, err := tx.ListByParent(id)
	if err != nil {
		return err
	}
	next := ""
	var bestTS int64
	bestIdx := -1
	for i := range children {
		c := &children[i]
		if !c.Live() {
			continue
		}
		if next == "" || c.CreatedTS > bestTS || (c.CreatedTS == bestTS && c.BranchIndex > bestIdx) {
			next, bestTS, bestIdx = c.ID, c.CreatedTS, c.BranchIndex
		}
	}
	if next == "" {
		return nil
	}
	return activateSubtree(tx, next)
}

// SwitchBranch moves the displayed path onto the given message: every
// other sibling subtree is deactivated, the target is activated, and
// the most recently created descendants below it are activated level by
// level. Returns the target id unchanged.
func (s *Service) SwitchBranch(ctx context.Context, callerID, messageID string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		target, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		siblings, err := siblingsOf(tx, target)
		if err != nil {
			return err
		}
		for i := range siblings {
			if siblings[i].ID == messageID {
				continue
			}
			if err := deactivateSubtree(tx, siblings[i].ID); err != nil {
				return err
			}
		}
		return activateSubtree(tx, messageID)
	})
	if err != nil {
		return "", err
	}
	telemetry.BranchSwitched()
	logger.Info("branch_switched", "message", messageID)
	return messageID, nil
}

// SendUserMessage appends a user turn. With a parent id the message is
// created as a new branch under that parent: it takes the next ordinal,
// every sibling still flagged active is deactivated, and the new message
// becomes the active branch. Conversation counters are bumped.
func (s *Service) SendUserMessage(ctx context.Context, callerID, conversationID, content string, parts []models.Part, parentID string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	var id string
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := s.verifyAccess(tx, conversationID, callerID); err != nil {
			return err
		}
		now := s.now()
		if parts == nil {
			parts = models.TextPart(content)
		}
		branchIndex := 0
		if parentID != "" {
			if _, err := tx.GetMessage(parentID); err != nil {
				return fmt.Errorf("parent %s: %w", parentID, err)
			}
			siblings, err := tx.ListByParent(parentID)
			if err != nil {
				return err
			}
			branchIndex = nextBranchIndex(siblings)
			// Deactivate every sibling flagged active, not just the first:
			// tolerates records that predate the single-path invariant.
			for i := range siblings {
				sib := &siblings[i]
				if !sib.Live() || !sib.Active() {
					continue
				}
				if err := tx.PatchMessage(sib.ID, models.MessagePatch{IsActiveBranch: models.Bool(false)}); err != nil {
					return err
				}
			}
		}
		m := &models.Message{
			ConversationID: conversationID,
			Author:         callerID,
			Role:           models.RoleUser,
			Content:        content,
			Parts:          parts,
			Status:         models.StatusCompleted,
			ParentID:       parentID,
			BranchIndex:    branchIndex,
			IsActiveBranch: models.Bool(true),
			CreatedTS:      now,
			UpdatedTS:      now,
		}
		newID, err := tx.InsertMessage(m)
		if err != nil {
			return err
		}
		id = newID
		return tx.PatchConversation(conversationID, models.ConversationPatch{
			MessageCount:  1,
			LastMessageTS: now,
			UpdatedTS:     now,
		})
	})
	if err != nil {
		return "", err
	}
	telemetry.MessageCreated(models.RoleUser)
	logger.Info("user_message_created", "conversation", conversationID, "id", id, "parent", parentID)
	return id, nil
}

// CreateAssistantMessage inserts a pending placeholder for a model
// response under the given parent. Branch numbering and sibling
// deactivation are scoped to assistant siblings only, so user and
// assistant turns under one parent are numbered independently.
func (s *Service) CreateAssistantMessage(ctx context.Context, callerID, conversationID, parentID, model, modelProvider string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	var id string
	err := s.store.Update(ctx, func(tx Tx) error {
		if _, err := s.verifyAccess(tx, conversationID, callerID); err != nil {
			return err
		}
		if _, err := tx.GetMessage(parentID); err != nil {
			return fmt.Errorf("parent %s: %w", parentID, err)
		}
		now := s.now()
		siblings, err := tx.ListByParent(parentID)
		if err != nil {
			return err
		}
		branchIndex := 0
		for i := range siblings {
			if siblings[i].Live() && siblings[i].Role == models.RoleAssistant {
				branchIndex++
			}
		}
		for i := range siblings {
			sib := &siblings[i]
			if sib.Role != models.RoleAssistant || !sib.Live() || !sib.Active() {
				continue
			}
			if err := tx.PatchMessage(sib.ID, models.MessagePatch{IsActiveBranch: models.Bool(false)}); err != nil {
				return err
			}
		}
		m := &models.Message{
			ConversationID: conversationID,
			Author:         callerID,
			Role:           models.RoleAssistant,
			Parts:          []models.Part{},
			Status:         models.StatusPending,
			Model:          model,
			ModelProvider:  modelProvider,
			ParentID:       parentID,
			BranchIndex:    branchIndex,
			IsActiveBranch: models.Bool(true),
			CreatedTS:      now,
			UpdatedTS:      now,
		}
		id, err = tx.InsertMessage(m)
		return err
	})
	if err != nil {
		return "", err
	}
	telemetry.MessageCreated(models.RoleAssistant)
	logger.Info("assistant_message_created", "conversation", conversationID, "id", id, "parent", parentID, "model", model)
	return id, nil
}

// CreateBranch is the "regenerate" / "try a different approach" entry
// point. With content it creates a new user branch under parentID,
// deactivating the previously active sibling subtrees. Without content
// it is a pure regeneration signal: the parent id is returned unchanged
// and nothing is mutated; the caller is expected to create the
// assistant placeholder itself.
func (s *Service) CreateBranch(ctx context.Context, callerID, parentID, content string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	if content == "" {
		err := s.store.View(ctx, func(tx Tx) error {
			_, err := tx.GetMessage(parentID)
			return err
		})
		if err != nil {
			return "", err
		}
		return parentID, nil
	}
	var id string
	err := s.store.Update(ctx, func(tx Tx) error {
		parent, err := tx.GetMessage(parentID)
		if err != nil {
			return err
		}
		now := s.now()
		siblings, err := tx.ListByParent(parentID)
		if err != nil {
			return err
		}
		branchIndex := nextBranchIndex(siblings)
		for i := range siblings {
			sib := &siblings[i]
			if !sib.Live() || !sib.Active() {
				continue
			}
			if err := deactivateSubtree(tx, sib.ID); err != nil {
				return err
			}
		}
		m := &models.Message{
			ConversationID: parent.ConversationID,
			Author:         callerID,
			Role:           models.RoleUser,
			Content:        content,
			Parts:          models.TextPart(content),
			Status:         models.StatusCompleted,
			ParentID:       parentID,
			BranchIndex:    branchIndex,
			IsActiveBranch: models.Bool(true),
			CreatedTS:      now,
			UpdatedTS:      now,
		}
		id, err = tx.InsertMessage(m)
		return err
	})
	if err != nil {
		return "", err
	}
	telemetry.BranchCreated()
	logger.Info("branch_created", "parent", parentID, "id", id)
	return id, nil
}
