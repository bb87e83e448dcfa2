package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis.
//
// Layout:
//   - {prefix}:rt:{value_hash}     JSON record
//   - {prefix}:owner:{owner_id}    set of value hashes owned by the principal
//
// Update uses optimistic locking: every key read inside the unit of work is
// WATCHed before it is read, writes are queued and flushed in one MULTI/EXEC.
// A concurrent write to any watched key aborts EXEC with ErrTxConflict.
// Records carry no Redis TTL; expiry is derived at read time.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a Redis-backed refresh record store.
// The client is owned by the caller.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: nil redis client")
	}
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = "mereb"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) recordKey(valueHash string) string {
	return s.keyPrefix + ":rt:" + valueHash
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return s.keyPrefix + ":owner:" + ownerID
}

// Update runs fn against a WATCHed view and commits its writes atomically.
func (s *RedisStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{s: s, rtx: rtx, seen: make(map[string]*Record)}
		if err := fn(t); err != nil {
			return err
		}
		return t.commit(ctx)
	})
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %v", ErrTxConflict, err)
	}
	return err
}

// storedRecord is the JSON form of Record. Times are epoch milliseconds.
type storedRecord struct {
	ID        string `json:"id"`
	ValueHash string `json:"value_hash"`
	OwnerID   string `json:"owner_id"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
}

func encodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(storedRecord{
		ID:        rec.ID,
		ValueHash: rec.ValueHash,
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt.UnixMilli(),
		ExpiresAt: rec.ExpiresAt.UnixMilli(),
		Revoked:   rec.Revoked,
	})
}

func decodeRecord(data []byte) (Record, error) {
	var st storedRecord
	if err := json.Unmarshal(data, &st); err != nil {
		return Record{}, fmt.Errorf("session: corrupt refresh record: %w", err)
	}
	return Record{
		ID:        st.ID,
		ValueHash: st.ValueHash,
		OwnerID:   st.OwnerID,
		CreatedAt: time.UnixMilli(st.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(st.ExpiresAt).UTC(),
		Revoked:   st.Revoked,
	}, nil
}

type redisTx struct {
	s      *RedisStore
	rtx    *redis.Tx
	seen   map[string]*Record // record key -> version read under WATCH (nil = absent)
	writes []func(redis.Pipeliner)
}

// load WATCHes key and reads it. Results are cached for the unit of work.
func (t *redisTx) load(ctx context.Context, key string) (*Record, error) {
	if rec, ok := t.seen[key]; ok {
		return rec, nil
	}
	if err := t.rtx.Watch(ctx, key).Err(); err != nil {
		return nil, err
	}
	data, err := t.rtx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		t.seen[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	t.seen[key] = &rec
	return &rec, nil
}

func (t *redisTx) FindByValue(ctx context.Context, valueHash string) (Record, error) {
	rec, err := t.load(ctx, t.s.recordKey(valueHash))
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, ErrRecordNotFound
	}
	return *rec, nil
}

func (t *redisTx) FindAllByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	ownerKey := t.s.ownerKey(ownerID)
	if err := t.rtx.Watch(ctx, ownerKey).Err(); err != nil {
		return nil, err
	}
	hashes, err := t.rtx.SMembers(ctx, ownerKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]Record, 0, len(hashes))
	for _, h := range hashes {
		rec, err := t.load(ctx, t.s.recordKey(h))
		if err != nil {
			return nil, err
		}
		// Dangling index entries are skipped.
		if rec == nil || rec.OwnerID != ownerID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *redisTx) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.ValueHash == "" || rec.OwnerID == "" {
		return errors.New("session: incomplete record")
	}

	key := t.s.recordKey(rec.ValueHash)
	existing, err := t.load(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.ID != rec.ID {
			return ErrDuplicateValue
		}
		// Upsert only flips the flag; identity, owner and expiry are immutable.
		updated := *existing
		updated.Revoked = rec.Revoked
		rec = updated
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ownerKey := t.s.ownerKey(rec.OwnerID)
	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Set(ctx, key, data, 0)
		p.SAdd(ctx, ownerKey, rec.ValueHash)
	})
	t.seen[key] = &rec
	return nil
}

func (t *redisTx) SaveAll(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := t.Save(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *redisTx) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	recs, err := t.FindAllByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(recs)+1)
	for _, rec := range recs {
		key := t.s.recordKey(rec.ValueHash)
		keys = append(keys, key)
		t.seen[key] = nil
	}
	keys = append(keys, t.s.ownerKey(ownerID))

	t.writes = append(t.writes, func(p redis.Pipeliner) {
		p.Del(ctx, keys...)
	})
	return len(recs), nil
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, w := range t.writes {
			w(p)
		}
		return nil
	})
	return err
}
