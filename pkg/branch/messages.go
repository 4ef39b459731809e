package branch

import (
	"context"
	"fmt"

	"branchdb/pkg/logger"
	"branchdb/pkg/models"
)

// GetMessage returns a single live message if the caller may read its
// conversation.
func (s *Service) GetMessage(ctx context.Context, callerID, messageID string) (*models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	var out *models.Message
	err := s.store.View(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if !m.Live() {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		if _, err := s.verifyAccess(tx, m.ConversationID, callerID); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssistantUpdate carries the streaming fill-in for an assistant
// placeholder. Nil fields are left untouched.
type AssistantUpdate struct {
	Parts        []models.Part
	Content      *string
	Status       *string
	FinishReason *string
	Usage        *models.Usage
	LatencyMs    *int64
}

// UpdateAssistantMessage patches an assistant message during or after
// streaming. When the update completes the message with usage attached,
// the owning conversation's counters are bumped in the same transaction.
func (s *Service) UpdateAssistantMessage(ctx context.Context, messageID string, upd AssistantUpdate) error {
	return s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		now := s.now()
		patch := models.MessagePatch{
			Parts:        upd.Parts,
			Content:      upd.Content,
			Status:       upd.Status,
			FinishReason: upd.FinishReason,
			Usage:        upd.Usage,
			LatencyMs:    upd.LatencyMs,
			UpdatedTS:    now,
		}
		if err := tx.PatchMessage(messageID, patch); err != nil {
			return err
		}
		if upd.Status != nil && *upd.Status == models.StatusCompleted && upd.Usage != nil {
			return tx.PatchConversation(m.ConversationID, models.ConversationPatch{
				MessageCount:  1,
				TotalTokens:   upd.Usage.TotalTokens,
				LastMessageTS: now,
				UpdatedTS:     now,
			})
		}
		return nil
	})
}

// EditUserMessage replaces the content of a user message in place. Only
// the author may edit, and only user-role messages are editable. The
// pre-edit content is preserved on first edit.
func (s *Service) EditUserMessage(ctx context.Context, callerID, messageID, content string, parts []models.Part) (string, error) {
	if callerID == "" {
		return "", ErrUnauthenticated
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if m.Author != callerID {
			return fmt.Errorf("message %s: %w", messageID, ErrAccessDenied)
		}
		if m.Role != models.RoleUser {
			return fmt.Errorf("only user messages can be edited: %w", ErrAccessDenied)
		}
		now := s.now()
		original := m.OriginalContent
		if original == "" {
			original = m.Content
		}
		if parts == nil {
			parts = models.TextPart(content)
		}
		return tx.PatchMessage(messageID, models.MessagePatch{
			Content:         models.String(content),
			Parts:           parts,
			OriginalContent: models.String(original),
			IsEdited:        models.Bool(true),
			EditedTS:        models.Int64(now),
			UpdatedTS:       now,
		})
	})
	if err != nil {
		return "", err
	}
	logger.Info("user_message_edited", "id", messageID)
	return messageID, nil
}

// AddFeedback attaches a rating to an assistant message.
func (s *Service) AddFeedback(ctx context.Context, callerID, messageID, rating, comment string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	return s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if m.Role != models.RoleAssistant {
			return fmt.Errorf("only assistant messages take feedback: %w", ErrAccessDenied)
		}
		now := s.now()
		return tx.PatchMessage(messageID, models.MessagePatch{
			Feedback:  &models.Feedback{Rating: rating, Comment: comment, FeedbackTS: now},
			UpdatedTS: now,
		})
	})
}

// Remove soft-deletes a message. The record stays addressable and its
// children remain in the tree; sibling and activation queries skip it
// from then on. Only the author may remove a message.
func (s *Service) Remove(ctx context.Context, callerID, messageID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	err := s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if m.Author != callerID {
			return fmt.Errorf("message %s: %w", messageID, ErrAccessDenied)
		}
		now := s.now()
		return tx.PatchMessage(messageID, models.MessagePatch{
			DeletedTS: models.Int64(now),
			UpdatedTS: now,
		})
	})
	if err != nil {
		return err
	}
	logger.Info("message_soft_deleted", "id", messageID)
	return nil
}

// CancelStreaming marks a pending or streaming assistant message as
// cancelled. Any other status is left as is.
func (s *Service) CancelStreaming(ctx context.Context, messageID string) error {
	return s.store.Update(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if m.Status != models.StatusStreaming && m.Status != models.StatusPending {
			return nil
		}
		return tx.PatchMessage(messageID, models.MessagePatch{
			Status:       models.String(models.StatusCancelled),
			FinishReason: models.String(models.StatusCancelled),
			UpdatedTS:    s.now(),
		})
	})
}
