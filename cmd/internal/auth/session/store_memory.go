package session

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is a dev/test Store. A single mutex serializes every Update,
// which makes each unit of work trivially atomic.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Record
	byHash  map[string]string              // value hash -> record id
	byOwner map[string]map[string]struct{} // owner id -> record ids
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Record),
		byHash:  make(map[string]string),
		byOwner: make(map[string]map[string]struct{}),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Update runs fn while holding the store lock. Writes made by fn are undone
// if fn returns an error.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// undo restores one record id to its previous version (or absence).
type undo struct {
	id      string
	prev    Record
	existed bool
}

type memTx struct {
	s   *MemoryStore
	log []undo
}

func (t *memTx) FindByValue(ctx context.Context, valueHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	id, ok := t.s.byHash[valueHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return t.s.byID[id], nil
}

func (t *memTx) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := t.s.byOwner[ownerID]
	out := make([]Record, 0, len(ids))
	for id := range ids {
		out = append(out, t.s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" || rec.ValueHash == "" || rec.OwnerID == "" {
		return errors.New("session: incomplete record")
	}
	if holder, ok := t.s.byHash[rec.ValueHash]; ok && holder != rec.ID {
		return ErrDuplicateValue
	}

	prev, existed := t.s.byID[rec.ID]
	t.log = append(t.log, undo{id: rec.ID, prev: prev, existed: existed})

	if existed {
		// Upsert only flips the flag; identity, owner and expiry are immutable.
		prev.Revoked = rec.Revoked
		t.s.byID[rec.ID] = prev
		return nil
	}

	t.s.put(rec)
	return nil
}

func (t *memTx) SaveAll(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := t.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids := t.s.byOwner[ownerID]
	n := 0
	for id := range ids {
		rec := t.s.byID[id]
		t.log = append(t.log, undo{id: id, prev: rec, existed: true})
		t.s.remove(rec)
		n++
	}
	return n, nil
}

func (t *memTx) rollback() {
	for i := len(t.log) - 1; i >= 0; i-- {
		u := t.log[i]
		if cur, ok := t.s.byID[u.id]; ok {
			t.s.remove(cur)
		}
		if u.existed {
			t.s.put(u.prev)
		}
	}
	t.log = nil
}

func (s *MemoryStore) put(rec Record) {
	s.byID[rec.ID] = rec
	s.byHash[rec.ValueHash] = rec.ID
	owned := s.byOwner[rec.OwnerID]
	if owned == nil {
		owned = make(map[string]struct{})
		s.byOwner[rec.OwnerID] = owned
	}
	owned[rec.ID] = struct{}{}
}

func (s *MemoryStore) remove(rec Record) {
	delete(s.byID, rec.ID)
	delete(s.byHash, rec.ValueHash)
	if owned := s.byOwner[rec.OwnerID]; owned != nil {
		delete(owned, rec.ID)
		if len(owned) == 0 {
			delete(s.byOwner, rec.OwnerID)
		}
	}
}
