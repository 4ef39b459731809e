package branch

import (
	"context"
	"sort"

	"branchdb/pkg/models"
)

// BranchInfo describes a message's position among its branch siblings,
// shaped for a branch-switcher UI.
type BranchInfo struct {
	TotalBranches int         `json:"total_branches"`
	CurrentBranch int         `json:"current_branch"` // 1-based
	HasPrevious   bool        `json:"has_previous"`
	HasNext       bool        `json:"has_next"`
	PreviousID    string      `json:"previous_id,omitempty"`
	NextID        string      `json:"next_id,omitempty"`
	Siblings      []BranchRef `json:"siblings"`
}

// BranchRef is a lightweight projection of one sibling.
type BranchRef struct {
	ID          string `json:"id"`
	BranchIndex int    `json:"branch_index"`
	CreatedTS   int64  `json:"created_ts"`
	Model       string `json:"model,omitempty"`
}

// GetBranchInfo returns branch navigation metadata for a message: total
// live siblings, the 1-based position of the message among them in
// ordinal order, and adjacent sibling ids.
func (s *Service) GetBranchInfo(ctx context.Context, messageID string) (*BranchInfo, error) {
	var info *BranchInfo
	err := s.store.View(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		siblings, err := siblingsOf(tx, m)
		if err != nil {
			return err
		}
		live := make([]models.Message, 0, len(siblings))
		for i := range siblings {
			if siblings[i].Live() {
				live = append(live, siblings[i])
			}
		}
		sort.Slice(live, func(i, j int) bool {
			if live[i].BranchIndex != live[j].BranchIndex {
				return live[i].BranchIndex < live[j].BranchIndex
			}
			return live[i].CreatedTS < live[j].CreatedTS
		})
		cur := -1
		for i := range live {
			if live[i].ID == messageID {
				cur = i
				break
			}
		}
		info = &BranchInfo{
			TotalBranches: len(live),
			CurrentBranch: cur + 1,
			HasPrevious:   cur > 0,
			HasNext:       cur >= 0 && cur < len(live)-1,
			Siblings:      make([]BranchRef, 0, len(live)),
		}
		if info.HasPrevious {
			info.PreviousID = live[cur-1].ID
		}
		if info.HasNext {
			info.NextID = live[cur+1].ID
		}
		for i := range live {
			info.Siblings = append(info.Siblings, BranchRef{
				ID:          live[i].ID,
				BranchIndex: live[i].BranchIndex,
				CreatedTS:   live[i].CreatedTS,
				Model:       live[i].Model,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// GetSiblings returns the raw live branch siblings of a message,
// including the message itself, in no particular order. Root siblings
// are scoped to the message's role; non-root siblings are not.
func (s *Service) GetSiblings(ctx context.Context, messageID string) ([]models.Message, error) {
	var out []models.Message
	err := s.store.View(ctx, func(tx Tx) error {
		m, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		siblings, err := siblingsOf(tx, m)
		if err != nil {
			return err
		}
		out = make([]models.Message, 0, len(siblings))
		for i := range siblings {
			if siblings[i].Live() {
				out = append(out, siblings[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns the conversation transcript along the active path: live
// messages whose active flag is set or unset, in creation order. limit
// caps the scan (default 200 when zero or negative).
func (s *Service) List(ctx context.Context, callerID, conversationID string, limit int) ([]models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = 200
	}
	var out []models.Message
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := s.verifyAccess(tx, conversationID, callerID); err != nil {
			return err
		}
		msgs, err := tx.ListByConversation(conversationID)
		if err != nil {
			return err
		}
		if len(msgs) > limit {
			msgs = msgs[:limit]
		}
		out = make([]models.Message, 0, len(msgs))
		for i := range msgs {
			if msgs[i].Live() && msgs[i].Active() {
				out = append(out, msgs[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListWithBranches returns every live message in a conversation in
// creation order, without active-path filtering: the full forest
// flattened, for clients that rebuild the tree themselves.
func (s *Service) ListWithBranches(ctx context.Context, callerID, conversationID string) ([]models.Message, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	var out []models.Message
	err := s.store.View(ctx, func(tx Tx) error {
		if _, err := s.verifyAccess(tx, conversationID, callerID); err != nil {
			return err
		}
		msgs, err := tx.ListByConversation(conversationID)
		if err != nil {
			return err
		}
		out = make([]models.Message, 0, len(msgs))
		for i := range msgs {
			if msgs[i].Live() {
				out = append(out, msgs[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
