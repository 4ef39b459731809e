package branch

import (
	"context"
	"fmt"

	"branchdb/pkg/logger"
	"branchdb/pkg/models"
	"branchdb/pkg/telemetry"
)

// CreateConversation opens a new conversation owned by the caller.
func (s *Service) CreateConversation(ctx context.Context, callerID, title, model string) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	var id string
	err := s.store.Update(ctx, func(tx Tx) error {
		now := s.now()
		c := &models.Conversation{
			Owner:     callerID,
			Title:     title,
			Model:     model,
			CreatedTS: now,
			UpdatedTS: now,
		}
		newID, err := tx.InsertConversation(c)
		if err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err != nil {
		return "", err
	}
	telemetry.ConversationCreated()
	logger.Info("conversation_created", "conversation", id, "owner", callerID)
	return id, nil
}

// GetConversation returns a conversation the caller may read.
func (s *Service) GetConversation(ctx context.Context, callerID, conversationID string) (*models.Conversation, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	var out *models.Conversation
	err := s.store.View(ctx, func(tx Tx) error {
		c, err := s.verifyAccess(tx, conversationID, callerID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversations returns the caller's live conversations.
func (s *Service) ListConversations(ctx context.Context, callerID string) ([]models.Conversation, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	var out []models.Conversation
	err := s.store.View(ctx, func(tx Tx) error {
		all, err := tx.ListConversations(callerID)
		if err != nil {
			return err
		}
		out = make([]models.Conversation, 0, len(all))
		for _, c := range all {
			if c.Live() {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenameConversation updates the title. Owner only.
func (s *Service) RenameConversation(ctx context.Context, callerID, conversationID, title string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	return s.store.Update(ctx, func(tx Tx) error {
		c, err := tx.GetConversation(conversationID)
		if err != nil {
			return err
		}
		if !c.Live() || c.Owner != callerID {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrAccessDenied)
		}
		return tx.PatchConversation(conversationID, models.ConversationPatch{
			Title:     models.String(title),
			UpdatedTS: s.now(),
		})
	})
}

// DeleteConversation soft-deletes a conversation. Its messages stay in
// the store for the janitor to purge after the retention window.
func (s *Service) DeleteConversation(ctx context.Context, callerID, conversationID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		c, err := tx.GetConversation(conversationID)
		if err != nil {
			return err
		}
		if !c.Live() || c.Owner != callerID {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrAccessDenied)
		}
		now := s.now()
		return tx.PatchConversation(conversationID, models.ConversationPatch{
			DeletedTS: models.Int64(now),
			UpdatedTS: now,
		})
	})
	if err != nil {
		return err
	}
	logger.Info("conversation_soft_deleted", "conversation", conversationID)
	return nil
}
