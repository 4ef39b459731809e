package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"branchdb/pkg/branch"
	"branchdb/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertMsg(t *testing.T, s *Store, m *models.Message) string {
	t.Helper()
	var id string
	err := s.Update(context.Background(), func(tx branch.Tx) error {
		var err error
		id, err = tx.InsertMessage(m)
		return err
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return id
}

func TestOpenCloseReady(t *testing.T) {
	s := openTestStore(t)
	if !s.Ready() {
		t.Fatalf("freshly opened store not ready")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Ready() {
		t.Fatalf("closed store still ready")
	}
	if err := s.View(context.Background(), func(branch.Tx) error { return nil }); err == nil {
		t.Fatalf("view on closed store should fail")
	}
}

func TestMessageRoundtrip(t *testing.T) {
	s := openTestStore(t)
	id := insertMsg(t, s, &models.Message{
		ConversationID: "conv-1",
		Role:           models.RoleUser,
		Content:        "hello",
		Parts:          models.TextPart("hello"),
		IsActiveBranch: models.Bool(true),
		CreatedTS:      100,
		UpdatedTS:      100,
	})
	if !strings.HasPrefix(id, "msg-") {
		t.Fatalf("generated id = %q", id)
	}

	err := s.View(context.Background(), func(tx branch.Tx) error {
		m, err := tx.GetMessage(id)
		if err != nil {
			return err
		}
		if m.Content != "hello" || m.Role != models.RoleUser || !m.Active() {
			t.Fatalf("record mangled: %+v", m)
		}
		if _, err := tx.GetMessage("msg-missing"); !errors.Is(err, branch.ErrNotFound) {
			t.Fatalf("missing get: err = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestPatchMessagePersists(t *testing.T) {
	s := openTestStore(t)
	id := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleAssistant, Status: models.StatusPending})

	err := s.Update(context.Background(), func(tx branch.Tx) error {
		return tx.PatchMessage(id, models.MessagePatch{
			Content:   models.String("answer"),
			Status:    models.String(models.StatusCompleted),
			UpdatedTS: 200,
		})
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	err = s.View(context.Background(), func(tx branch.Tx) error {
		m, err := tx.GetMessage(id)
		if err != nil {
			return err
		}
		if m.Content != "answer" || m.Status != models.StatusCompleted || m.UpdatedTS != 200 {
			t.Fatalf("patch not persisted: %+v", m)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestListByConversation_CreationOrder(t *testing.T) {
	s := openTestStore(t)
	var want []string
	for i := 0; i < 5; i++ {
		id := insertMsg(t, s, &models.Message{
			ConversationID: "conv-1",
			Role:           models.RoleUser,
			Content:        fmt.Sprintf("m%d", i),
		})
		want = append(want, id)
	}
	insertMsg(t, s, &models.Message{ConversationID: "conv-other", Role: models.RoleUser})

	err := s.View(context.Background(), func(tx branch.Tx) error {
		msgs, err := tx.ListByConversation("conv-1")
		if err != nil {
			return err
		}
		if len(msgs) != len(want) {
			t.Fatalf("got %d messages, want %d", len(msgs), len(want))
		}
		for i := range msgs {
			if msgs[i].ID != want[i] {
				t.Fatalf("position %d: got %s, want %s", i, msgs[i].ID, want[i])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestParentAndRootIndexes(t *testing.T) {
	s := openTestStore(t)
	rootUser := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleUser})
	rootSys := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleSystem})
	child1 := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleAssistant, ParentID: rootUser})
	child2 := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleAssistant, ParentID: rootUser})

	err := s.View(context.Background(), func(tx branch.Tx) error {
		kids, err := tx.ListByParent(rootUser)
		if err != nil {
			return err
		}
		if len(kids) != 2 {
			t.Fatalf("got %d children, want 2", len(kids))
		}
		got := map[string]bool{kids[0].ID: true, kids[1].ID: true}
		if !got[child1] || !got[child2] {
			t.Fatalf("children = %v", got)
		}

		roots, err := tx.ListRoots("conv-1", models.RoleUser)
		if err != nil {
			return err
		}
		if len(roots) != 1 || roots[0].ID != rootUser {
			t.Fatalf("user roots = %v, want only %s", roots, rootUser)
		}
		sys, err := tx.ListRoots("conv-1", models.RoleSystem)
		if err != nil {
			return err
		}
		if len(sys) != 1 || sys[0].ID != rootSys {
			t.Fatalf("system roots = %v, want only %s", sys, rootSys)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestConversationRoundtripAndOwnerIndex(t *testing.T) {
	s := openTestStore(t)
	var aliceIDs []string
	err := s.Update(context.Background(), func(tx branch.Tx) error {
		for _, title := range []string{"first", "second"} {
			id, err := tx.InsertConversation(&models.Conversation{Owner: "alice", Title: title})
			if err != nil {
				return err
			}
			aliceIDs = append(aliceIDs, id)
		}
		_, err := tx.InsertConversation(&models.Conversation{Owner: "bob", Title: "theirs"})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !strings.HasPrefix(aliceIDs[0], "conv-") {
		t.Fatalf("generated id = %q", aliceIDs[0])
	}

	err = s.Update(context.Background(), func(tx branch.Tx) error {
		return tx.PatchConversation(aliceIDs[0], models.ConversationPatch{
			MessageCount: 2,
			TotalTokens:  50,
			UpdatedTS:    99,
		})
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	err = s.View(context.Background(), func(tx branch.Tx) error {
		convs, err := tx.ListConversations("alice")
		if err != nil {
			return err
		}
		if len(convs) != 2 {
			t.Fatalf("got %d conversations, want 2", len(convs))
		}
		if convs[0].ID != aliceIDs[0] || convs[1].ID != aliceIDs[1] {
			t.Fatalf("owner listing out of creation order: %v", convs)
		}
		if convs[0].MessageCount != 2 || convs[0].TotalTokens != 50 {
			t.Fatalf("counter deltas not applied: %+v", convs[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	boom := errors.New("boom")
	var id string
	err := s.Update(context.Background(), func(tx branch.Tx) error {
		var err error
		id, err = tx.InsertMessage(&models.Message{ConversationID: "conv-1", Role: models.RoleUser})
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the callback error", err)
	}

	err = s.View(context.Background(), func(tx branch.Tx) error {
		if _, err := tx.GetMessage(id); !errors.Is(err, branch.ErrNotFound) {
			t.Fatalf("aborted insert visible: err = %v", err)
		}
		msgs, err := tx.ListByConversation("conv-1")
		if err != nil {
			return err
		}
		if len(msgs) != 0 {
			t.Fatalf("aborted index entries visible: %v", msgs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateReadsItsOwnWrites(t *testing.T) {
	s := openTestStore(t)
	err := s.Update(context.Background(), func(tx branch.Tx) error {
		id, err := tx.InsertMessage(&models.Message{ConversationID: "conv-1", Role: models.RoleUser})
		if err != nil {
			return err
		}
		m, err := tx.GetMessage(id)
		if err != nil {
			return fmt.Errorf("uncommitted write invisible: %w", err)
		}
		if m.ID != id {
			return fmt.Errorf("wrong record: %+v", m)
		}
		kids, err := tx.ListByConversation("conv-1")
		if err != nil {
			return err
		}
		if len(kids) != 1 {
			return fmt.Errorf("uncommitted index invisible, got %d", len(kids))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	s := openTestStore(t)
	err := s.View(context.Background(), func(tx branch.Tx) error {
		_, err := tx.InsertMessage(&models.Message{ConversationID: "conv-1"})
		return err
	})
	if err == nil {
		t.Fatalf("insert inside a view should fail")
	}
}

func TestPurgeMessagesBefore(t *testing.T) {
	s := openTestStore(t)
	old := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleUser, DeletedTS: 100})
	recent := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleUser, DeletedTS: 900})
	live := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleUser})
	oldChild := insertMsg(t, s, &models.Message{ConversationID: "conv-1", Role: models.RoleAssistant, ParentID: live, DeletedTS: 100})

	n, err := s.PurgeMessagesBefore(context.Background(), 500)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d records, want 2", n)
	}

	err = s.View(context.Background(), func(tx branch.Tx) error {
		if _, err := tx.GetMessage(old); !errors.Is(err, branch.ErrNotFound) {
			t.Fatalf("old record survived purge: %v", err)
		}
		if _, err := tx.GetMessage(recent); err != nil {
			t.Fatalf("recently deleted record purged early: %v", err)
		}
		if _, err := tx.GetMessage(live); err != nil {
			t.Fatalf("live record purged: %v", err)
		}
		msgs, err := tx.ListByConversation("conv-1")
		if err != nil {
			return err
		}
		if len(msgs) != 2 {
			t.Fatalf("order index holds %d records after purge, want 2", len(msgs))
		}
		kids, err := tx.ListByParent(live)
		if err != nil {
			return err
		}
		if len(kids) != 0 {
			t.Fatalf("parent index still lists purged child %s", oldChild)
		}
		roots, err := tx.ListRoots("conv-1", models.RoleUser)
		if err != nil {
			return err
		}
		if len(roots) != 2 {
			t.Fatalf("root index holds %d records after purge, want 2", len(roots))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	// idempotent on a clean tree
	n, err = s.PurgeMessagesBefore(context.Background(), 500)
	if err != nil || n != 0 {
		t.Fatalf("second purge: n=%d err=%v", n, err)
	}
}
