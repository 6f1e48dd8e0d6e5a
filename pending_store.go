package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var errPendingUnavailable = errors.New("pending store unavailable")

// pendingRecord is the persisted JSON layout. Timestamp is unix
// milliseconds; the field names are part of the storage contract.
type pendingRecord struct {
	Email     string `json:"email"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// pendingStore keeps the single durable pending-verification slot. Last
// write wins; the TTL is enforced lazily on read. Corrupt data is cleared
// and treated as absent, never surfaced to the caller.
type pendingStore struct {
	redis *redis.Client
	key   string
	ttl   time.Duration

	mu        sync.Mutex
	observers map[int]PendingObserver
	nextObs   int
}

func newPendingStore(redisClient *redis.Client, cfg PendingConfig) *pendingStore {
	return &pendingStore{
		redis:     redisClient,
		key:       cfg.StorageKey,
		ttl:       cfg.TTL,
		observers: make(map[int]PendingObserver),
	}
}

// Set overwrites the slot regardless of what it held before and notifies
// same-tab observers synchronously.
func (s *pendingStore) Set(ctx context.Context, email string, kind OperationKind) error {
	record := pendingRecord{
		Email:     email,
		Kind:      kind.String(),
		Timestamp: time.Now().UnixMilli(),
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}

	// Redis expiry doubles the lazy read-side check; slightly longer so
	// the read path owns the exact cutoff.
	if err := s.redis.Set(ctx, s.key, encoded, s.ttl+time.Minute).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPendingUnavailable, err)
	}

	s.notify(&PendingVerification{
		Email:     email,
		Kind:      kind,
		CreatedAt: time.UnixMilli(record.Timestamp),
	})
	return nil
}

// Get returns the stored record, or nil when the slot is empty, expired, or
// unreadable. Expired and malformed data is cleared as a side effect.
// Storage failures are swallowed and logged; the caller sees "no pending".
func (s *pendingStore) Get(ctx context.Context) *PendingVerification {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Print("authflow: pending store read failed")
		}
		return nil
	}

	var record pendingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.clearSlot(ctx, true)
		return nil
	}

	kind, ok := parseOperationKind(record.Kind)
	if !ok || record.Email == "" {
		s.clearSlot(ctx, true)
		return nil
	}

	createdAt := time.UnixMilli(record.Timestamp)
	if time.Since(createdAt) > s.ttl {
		s.clearSlot(ctx, true)
		return nil
	}

	return &PendingVerification{
		Email:     record.Email,
		Kind:      kind,
		CreatedAt: createdAt,
	}
}

// Has reports whether a live pending verification exists.
func (s *pendingStore) Has(ctx context.Context) bool {
	return s.Get(ctx) != nil
}

// Clear empties the slot. When kinds are given, the slot is only cleared if
// the stored record matches one of them, so one flow's cleanup cannot erase
// an unrelated pending verification.
func (s *pendingStore) Clear(ctx context.Context, kinds ...OperationKind) {
	if len(kinds) > 0 {
		current := s.Get(ctx)
		if current == nil {
			return
		}
		matched := false
		for _, k := range kinds {
			if current.Kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}

	s.clearSlot(ctx, true)
}

func (s *pendingStore) clearSlot(ctx context.Context, notifyObservers bool) {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		log.Print("authflow: pending store clear failed")
	}
	if notifyObservers {
		s.notify(nil)
	}
}

// Observe registers a same-tab change observer and returns its remover.
// Observers run synchronously on the mutating goroutine.
func (s *pendingStore) Observe(fn PendingObserver) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *pendingStore) notify(record *PendingVerification) {
	s.mu.Lock()
	observers := make([]PendingObserver, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(record)
	}
}
