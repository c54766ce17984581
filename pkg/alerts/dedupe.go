package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/model"
	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// DeliveryKey identifies one alert on one recipient channel.
type DeliveryKey struct {
	AlertID     string
	RecipientID string
	Channel     string
}

func (k DeliveryKey) String() string {
	return k.AlertID + ":" + k.RecipientID + ":" + k.Channel
}

// Deduper guards against delivering the same alert to the same recipient
// channel twice. A claim that completes as failed is released so a later
// route may retry it.
type Deduper interface {
	// Claim reports whether the caller now owns the delivery.
	Claim(ctx context.Context, key DeliveryKey) (bool, error)

	// Complete records the outcome of a claimed delivery.
	Complete(ctx context.Context, key DeliveryKey, outcome model.DeliveryOutcome, errMsg string) error
}

// MemoryDeduper keeps claims in process memory.
type MemoryDeduper struct {
	mu     sync.Mutex
	claims map[string]model.DeliveryOutcome
}

// NewMemoryDeduper creates an empty in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{claims: make(map[string]model.DeliveryOutcome)}
}

func (m *MemoryDeduper) Claim(_ context.Context, key DeliveryKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if _, held := m.claims[k]; held {
		return false, nil
	}
	m.claims[k] = ""
	return true, nil
}

func (m *MemoryDeduper) Complete(_ context.Context, key DeliveryKey, outcome model.DeliveryOutcome, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if outcome == model.OutcomeFailed {
		delete(m.claims, key.String())
		return nil
	}
	m.claims[key.String()] = outcome
	return nil
}

// LogDeduper uses the persistent delivery log, which also keeps an audit
// trail of every attempt.
type LogDeduper struct {
	log storage.DeliveryLog
}

// NewLogDeduper creates a deduper backed by the delivery log.
func NewLogDeduper(log storage.DeliveryLog) *LogDeduper {
	return &LogDeduper{log: log}
}

func (l *LogDeduper) Claim(ctx context.Context, key DeliveryKey) (bool, error) {
	return l.log.ClaimDelivery(ctx, key.AlertID, key.RecipientID, key.Channel)
}

func (l *LogDeduper) Complete(ctx context.Context, key DeliveryKey, outcome model.DeliveryOutcome, errMsg string) error {
	return l.log.CompleteDelivery(ctx, &model.DeliveryRecord{
		AlertID:     key.AlertID,
		RecipientID: key.RecipientID,
		Channel:     key.Channel,
		Status:      outcome,
		Error:       errMsg,
		AttemptedAt: time.Now().UTC(),
	})
}

// DefaultDedupeTTL bounds how long a Redis claim is remembered.
const DefaultDedupeTTL = 72 * time.Hour

// RedisDeduper claims deliveries with SETNX so that several server
// instances share one view.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper creates a Redis-backed deduper. A non-positive ttl uses DefaultDedupeTTL.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: "sentinel:delivery:"}
}

func (r *RedisDeduper) Claim(ctx context.Context, key DeliveryKey) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key.String(), "pending", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, key DeliveryKey, outcome model.DeliveryOutcome, _ string) error {
	k := r.prefix + key.String()
	if outcome == model.OutcomeFailed {
		if err := r.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("release delivery %s: %w", key, err)
		}
		return nil
	}
	if err := r.client.Set(ctx, k, string(outcome), r.ttl).Err(); err != nil {
		return fmt.Errorf("complete delivery %s: %w", key, err)
	}
	return nil
}
