package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInFlight ключ занят запросом, который ещё не завершился
	ErrInFlight = errors.New("idempotency: request with this key is in flight")
	// ErrUnavailable хранилище ключей недоступно
	ErrUnavailable = errors.New("idempotency: store unavailable")
)

// InFlightTTL срок жизни незавершённой заявки: ключ упавшего процесса не держится дольше
const InFlightTTL = 30 * time.Second

// Store хранит соответствие ключа идемпотентности и созданного заказа
type Store interface {
	// Begin занимает ключ. Если по ключу уже создан заказ, возвращает его id и done=true.
	Begin(ctx context.Context, key string) (orderID int64, done bool, err error)
	// Complete фиксирует результат на ttl хранилища
	Complete(ctx context.Context, key string, orderID int64) error
	// Abort освобождает ключ после неудачного запроса
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	orderID int64
	expires time.Time
}

// MemoryStore Store в памяти процесса
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Begin(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.orderID == 0 {
			return 0, false, ErrInFlight
		}
		return e.orderID, true, nil
	}
	s.entries[key] = memoryEntry{expires: now.Add(min(InFlightTTL, s.ttl))}
	return 0, false, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{orderID: orderID, expires: s.now().Add(s.ttl)}
	s.sweepLocked()
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// sweepLocked drops expired entries. Caller holds mu.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
