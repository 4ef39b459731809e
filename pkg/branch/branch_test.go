package branch

import (
	"context"
	"fmt"
	"testing"

	"branchdb/pkg/models"
)

// memStore is an in-memory Store for engine tests. It applies writes
// directly; transactional rollback is exercised against the real store.
type memStore struct {
	msgs      map[string]*models.Message
	order     []string
	convs     map[string]*models.Conversation
	convOrder []string
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{
		msgs:  map[string]*models.Message{},
		convs: map[string]*models.Conversation{},
	}
}

func (s *memStore) View(ctx context.Context, fn func(Tx) error) error   { return fn(&memTx{s}) }
func (s *memStore) Update(ctx context.Context, fn func(Tx) error) error { return fn(&memTx{s}) }

type memTx struct{ s *memStore }

func (t *memTx) GetMessage(id string) (*models.Message, error) {
	m, ok := t.s.msgs[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (t *memTx) ListByParent(parentID string) ([]models.Message, error) {
	var out []models.Message
	for _, id := range t.s.order {
		if m := t.s.msgs[id]; m.ParentID == parentID && parentID != "" {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memTx) ListRoots(conversationID, role string) ([]models.Message, error) {
	var out []models.Message
	for _, id := range t.s.order {
		m := t.s.msgs[id]
		if m.ParentID == "" && m.ConversationID == conversationID && m.Role == role {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memTx) ListByConversation(conversationID string) ([]models.Message, error) {
	var out []models.Message
	for _, id := range t.s.order {
		if m := t.s.msgs[id]; m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (t *memTx) InsertMessage(m *models.Message) (string, error) {
	if m.ID == "" {
		t.s.nextID++
		m.ID = fmt.Sprintf("m%d", t.s.nextID)
	}
	cp := *m
	t.s.msgs[m.ID] = &cp
	t.s.order = append(t.s.order, m.ID)
	return m.ID, nil
}

func (t *memTx) PatchMessage(id string, p models.MessagePatch) error {
	m, ok := t.s.msgs[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	p.Apply(m)
	return nil
}

func (t *memTx) GetConversation(id string) (*models.Conversation, error) {
	c, ok := t.s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) ListConversations(owner string) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, id := range t.s.convOrder {
		if c := t.s.convs[id]; c.Owner == owner {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (t *memTx) InsertConversation(c *models.Conversation) (string, error) {
	if c.ID == "" {
		t.s.nextID++
		c.ID = fmt.Sprintf("c%d", t.s.nextID)
	}
	cp := *c
	t.s.convs[c.ID] = &cp
	t.s.convOrder = append(t.s.convOrder, c.ID)
	return c.ID, nil
}

func (t *memTx) PatchConversation(id string, p models.ConversationPatch) error {
	c, ok := t.s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	p.Apply(c)
	return nil
}

// allowAll grants every caller access; ownerOnly mirrors production.
type allowAll struct{}

func (allowAll) CanAccess(*models.Conversation, string) bool { return true }

type ownerOnly struct{}

func (ownerOnly) CanAccess(c *models.Conversation, callerID string) bool {
	return c != nil && (c.Shared || c.Owner == callerID)
}

// newTestService returns a service over a fresh memStore with a
// deterministic clock: each call to now advances by one.
func newTestService(policy AccessPolicy) (*Service, *memStore) {
	st := newMemStore()
	svc := NewService(st, policy)
	var tick int64
	svc.now = func() int64 { tick++; return tick }
	return svc, st
}

// seedConversation inserts a conversation owned by the given caller.
func seedConversation(t *testing.T, st *memStore, owner string) string {
	t.Helper()
	tx := &memTx{st}
	id, err := tx.InsertConversation(&models.Conversation{Owner: owner, CreatedTS: 1, UpdatedTS: 1})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return id
}

// activeLeafPath walks active children from the given message and
// returns the visited ids, for asserting the displayed path.
func activeLeafPath(t *testing.T, st *memStore, from string) []string {
	t.Helper()
	tx := &memTx{st}
	var path []string
	cur := from
	for cur != "" {
		m, err := tx.GetMessage(cur)
		if err != nil {
			t.Fatalf("walk %s: %v", cur, err)
		}
		if !m.Live() || !m.Active() {
			break
		}
		path = append(path, cur)
		children, _ := tx.ListByParent(cur)
		next := ""
		for i := range children {
			if children[i].Live() && children[i].Active() {
				next = children[i].ID
				break
			}
		}
		cur = next
	}
	return path
}

// assertSingleActivePerSiblingSet fails if any sibling set in the
// conversation holds more than one live active message.
func assertSingleActivePerSiblingSet(t *testing.T, st *memStore, conversationID string) {
	t.Helper()
	tx := &memTx{st}
	all, _ := tx.ListByConversation(conversationID)
	groups := map[string][]models.Message{}
	for _, m := range all {
		key := "p:" + m.ParentID
		if m.ParentID == "" {
			key = "root:" + m.Role
		}
		groups[key] = append(groups[key], m)
	}
	for key, set := range groups {
		active := 0
		for i := range set {
			if set[i].Live() && set[i].Active() {
				active++
			}
		}
		if active > 1 {
			t.Fatalf("sibling set %s has %d active messages", key, active)
		}
	}
}

func mustSend(t *testing.T, svc *Service, caller, conv, content, parent string) string {
	t.Helper()
	id, err := svc.SendUserMessage(context.Background(), caller, conv, content, nil, parent)
	if err != nil {
		t.Fatalf("send user message: %v", err)
	}
	return id
}

func mustAssistant(t *testing.T, svc *Service, caller, conv, parent string) string {
	t.Helper()
	id, err := svc.CreateAssistantMessage(context.Background(), caller, conv, parent, "gpt-test", "test")
	if err != nil {
		t.Fatalf("create assistant message: %v", err)
	}
	return id
}
