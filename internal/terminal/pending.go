package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingMarker is the transaction metadata kept between approval and
// confirmation so an orphaned transaction can be replayed later.
type PendingMarker struct {
	OrderID           string    `json:"orderId"`
	NSU               string    `json:"nsu"`
	MerchantID        string    `json:"merchantId,omitempty"`
	AuthorizationCode string    `json:"authorizationCode,omitempty"`
	ConfirmationToken string    `json:"confirmationToken"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PendingStore holds at most one marker for the pinpad.
type PendingStore interface {
	Save(ctx context.Context, m PendingMarker) error
	// Load returns nil when no marker is stored.
	Load(ctx context.Context) (*PendingMarker, error)
	Clear(ctx context.Context) error
}

const (
	defaultPendingKey = "totem:terminal:pending"
	defaultPendingTTL = 24 * time.Hour
)

type RedisPendingStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisPendingStore stores the marker under a key scoped to terminalID.
func NewRedisPendingStore(rdb *redis.Client, terminalID string) *RedisPendingStore {
	key := defaultPendingKey
	if terminalID != "" {
		key += ":" + terminalID
	}
	return &RedisPendingStore{rdb: rdb, key: key, ttl: defaultPendingTTL}
}

func (s *RedisPendingStore) Save(ctx context.Context, m PendingMarker) error {
	objInByte, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal pending marker: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, objInByte, s.ttl).Err(); err != nil {
		return fmt.Errorf("save pending marker: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Load(ctx context.Context) (*PendingMarker, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pending marker: %w", err)
	}
	var m PendingMarker
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, fmt.Errorf("decode pending marker: %w", err)
	}
	return &m, nil
}

func (s *RedisPendingStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear pending marker: %w", err)
	}
	return nil
}

// MemoryPendingStore is used when Redis is not configured. Markers do not
// survive a restart.
type MemoryPendingStore struct {
	mu     sync.Mutex
	marker *PendingMarker
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{}
}

func (s *MemoryPendingStore) Save(_ context.Context, m PendingMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = &m
	return nil
}

func (s *MemoryPendingStore) Load(_ context.Context) (*PendingMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return nil, nil
	}
	m := *s.marker
	return &m, nil
}

func (s *MemoryPendingStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = nil
	return nil
}
