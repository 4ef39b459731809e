// Package store persists conversations and messages in Pebble.
//
// Key layout:
//
//	conv:<convID>                               conversation JSON
//	msg:<msgID>                                 message JSON
//	idx:conv:<convID>:<ts20>-<seq6>:<msgID>     creation-order index, value = msgID
//	idx:parent:<parentID>:<msgID>               children index, value = msgID
//	idx:root:<convID>:<role>:<msgID>            root-sibling index, value = msgID
//	idx:owner:<owner>:<ts20>-<seq6>:<convID>    per-owner conversations, value = convID
//
// Index values hold only IDs; records are always resolved through the
// primary key so patches never leave stale index copies behind.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"branchdb/pkg/branch"
	"branchdb/pkg/logger"
	"branchdb/pkg/models"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// seq reduces key collisions when multiple records share the same
// nanosecond timestamp.
var seq uint64

// Store is a pebble-backed branch.Store. Update transactions are
// serialized; reads inside an update observe the transaction's own
// writes.
type Store struct {
	db *pebble.DB
	mu sync.Mutex
}

// Open opens (or creates) a Pebble database at the given path.
// cacheSize is the block cache size in bytes; zero means pebble's default.
func Open(path string, cacheSize int64) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	opts := &pebble.Options{}
	if cacheSize > 0 {
		c := pebble.NewCache(cacheSize)
		defer c.Unref()
		opts.Cache = c
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "err", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the underlying pebble DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// View runs fn against a consistent snapshot. Writes inside fn fail.
func (s *Store) View(ctx context.Context, fn func(branch.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()
	return fn(&tx{r: snap})
}

// Update runs fn inside a single write transaction. All writes are
// applied together on success and dropped entirely on error.
func (s *Store) Update(ctx context.Context, fn func(branch.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(&tx{r: b, b: b}); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// reader is the read surface shared by *pebble.Snapshot and *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type tx struct {
	r reader
	b *pebble.Batch // nil in read-only transactions
}

func convKey(id string) []byte { return []byte("conv:" + id) }
func msgKey(id string) []byte  { return []byte("msg:" + id) }

func tsSeq() string {
	ts := time.Now().UTC().UnixNano()
	n := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("%020d-%06d", ts, n)
}

func (t *tx) get(key []byte, out any) error {
	v, closer, err := t.r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return branch.ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(v, out)
}

func (t *tx) set(key []byte, v any) error {
	if t.b == nil {
		return fmt.Errorf("read-only transaction")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return t.b.Set(key, data, nil)
}

// scanIDs collects index values (record IDs) under prefix, in key order.
func (t *tx) scanIDs(prefix string) ([]string, error) {
	iter, err := t.r.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	return ids, iter.Error()
}

func (t *tx) resolveMessages(ids []string) ([]models.Message, error) {
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		var m models.Message
		if err := t.get(msgKey(id), &m); err != nil {
			if errors.Is(err, branch.ErrNotFound) {
				continue // index points at a purged record
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *tx) GetMessage(id string) (*models.Message, error) {
	var m models.Message
	if err := t.get(msgKey(id), &m); err != nil {
		if errors.Is(err, branch.ErrNotFound) {
			return nil, fmt.Errorf("message %s: %w", id, branch.ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

func (t *tx) ListByParent(parentID string) ([]models.Message, error) {
	ids, err := t.scanIDs("idx:parent:" + parentID + ":")
	if err != nil {
		return nil, err
	}
	return t.resolveMessages(ids)
}

func (t *tx) ListRoots(conversationID, role string) ([]models.Message, error) {
	ids, err := t.scanIDs("idx:root:" + conversationID + ":" + role + ":")
	if err != nil {
		return nil, err
	}
	return t.resolveMessages(ids)
}

func (t *tx) ListByConversation(conversationID string) ([]models.Message, error) {
	ids, err := t.scanIDs("idx:conv:" + conversationID + ":")
	if err != nil {
		return nil, err
	}
	return t.resolveMessages(ids)
}

func (t *tx) InsertMessage(m *models.Message) (string, error) {
	if t.b == nil {
		return "", fmt.Errorf("read-only transaction")
	}
	if m.ID == "" {
		m.ID = "msg-" + uuid.NewString()
	}
	if err := t.set(msgKey(m.ID), m); err != nil {
		return "", err
	}
	ord := tsSeq()
	if err := t.b.Set([]byte("idx:conv:"+m.ConversationID+":"+ord+":"+m.ID), []byte(m.ID), nil); err != nil {
		return "", err
	}
	if m.ParentID == "" {
		if err := t.b.Set([]byte("idx:root:"+m.ConversationID+":"+m.Role+":"+m.ID), []byte(m.ID), nil); err != nil {
			return "", err
		}
	} else {
		if err := t.b.Set([]byte("idx:parent:"+m.ParentID+":"+m.ID), []byte(m.ID), nil); err != nil {
			return "", err
		}
	}
	return m.ID, nil
}

func (t *tx) PatchMessage(id string, p models.MessagePatch) error {
	m, err := t.GetMessage(id)
	if err != nil {
		return err
	}
	p.Apply(m)
	return t.set(msgKey(id), m)
}

func (t *tx) GetConversation(id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := t.get(convKey(id), &c); err != nil {
		if errors.Is(err, branch.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, branch.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func (t *tx) ListConversations(owner string) ([]models.Conversation, error) {
	ids, err := t.scanIDs("idx:owner:" + owner + ":")
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		var c models.Conversation
		if err := t.get(convKey(id), &c); err != nil {
			if errors.Is(err, branch.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *tx) InsertConversation(c *models.Conversation) (string, error) {
	if t.b == nil {
		return "", fmt.Errorf("read-only transaction")
	}
	if c.ID == "" {
		c.ID = "conv-" + uuid.NewString()
	}
	if err := t.set(convKey(c.ID), c); err != nil {
		return "", err
	}
	if err := t.b.Set([]byte("idx:owner:"+c.Owner+":"+tsSeq()+":"+c.ID), []byte(c.ID), nil); err != nil {
		return "", err
	}
	return c.ID, nil
}

func (t *tx) PatchConversation(id string, p models.ConversationPatch) error {
	c, err := t.GetConversation(id)
	if err != nil {
		return err
	}
	p.Apply(c)
	return t.set(convKey(id), c)
}

// PurgeMessagesBefore physically removes soft-deleted messages whose
// deletion timestamp is older than cutoff, along with their index
// entries. Returns the number of records removed. Used by the janitor.
func (s *Store) PurgeMessagesBefore(ctx context.Context, cutoff int64) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("msg:"),
		UpperBound: []byte("msg:\xff"),
	})
	if err != nil {
		return 0, err
	}
	type victim struct {
		m models.Message
	}
	var victims []victim
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			iter.Close()
			return 0, err
		}
		var m models.Message
		if json.Unmarshal(iter.Value(), &m) != nil {
			continue
		}
		if m.DeletedTS != 0 && m.DeletedTS < cutoff {
			victims = append(victims, victim{m: m})
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}
	iter.Close()
	if len(victims) == 0 {
		return 0, nil
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()
	for _, v := range victims {
		m := v.m
		if err := b.Delete(msgKey(m.ID), nil); err != nil {
			return 0, err
		}
		if m.ParentID == "" {
			if err := b.Delete([]byte("idx:root:"+m.ConversationID+":"+m.Role+":"+m.ID), nil); err != nil {
				return 0, err
			}
		} else {
			if err := b.Delete([]byte("idx:parent:"+m.ParentID+":"+m.ID), nil); err != nil {
				return 0, err
			}
		}
		if err := s.deleteOrderEntries(b, m.ConversationID, m.ID); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("messages_purged", "count", len(victims), "cutoff", cutoff)
	return len(victims), nil
}

// deleteOrderEntries removes creation-order index keys for msgID. The
// ordinal part of the key is not recoverable from the record, so the
// conversation's range is scanned.
func (s *Store) deleteOrderEntries(b *pebble.Batch, conversationID, msgID string) error {
	prefix := "idx:conv:" + conversationID + ":"
	iter, err := b.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if strings.HasSuffix(string(iter.Key()), ":"+msgID) {
			keys = append(keys, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}
