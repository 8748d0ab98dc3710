// Package queue implements the durable offline operation queue: mutating API
// calls that fail while connectivity is down are buffered in a Redis list and
// replayed once the client reports online again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Operation types replayed by the queue.
const (
	OpPatchBuild = "PATCH_BUILD"
	OpPostBuild  = "POST_BUILD"
)

// ErrUnsupportedOperation rejects operation types the queue cannot replay.
var ErrUnsupportedOperation = errors.New("unsupported operation type")

// Operation is one buffered mutating request. OwnerID records whose authority
// the replay runs under; the server stamps it from the authenticated session
// at enqueue, it is never trusted from the client body.
type Operation struct {
	Type    string          `json:"type"`
	OwnerID string          `json:"ownerId,omitempty"`
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Item wraps an operation with its retry bookkeeping.
type Item struct {
	ID         string    `json:"id"`
	Operation  Operation `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`
	Retries    int       `json:"retries"`
	MaxRetries int       `json:"maxRetries"`
}

// DropEvent is emitted when an item exhausts its retries and is removed.
type DropEvent struct {
	Item Item
	Err  string
}

// Executor replays one buffered operation against the real backend.
type Executor func(ctx context.Context, op Operation) error

// Config configures the offline queue.
type Config struct {
	Addr          string
	Password      string
	Key           string
	MaxRetries    int
	RetryInterval time.Duration
	Executor      Executor
}

// OfflineQueue is a Redis-list backed FIFO of pending operations. A drain
// cycle snapshots the list length at start, so items enqueued mid-drain are
// untouched until the next cycle.
type OfflineQueue struct {
	client        *redis.Client
	key           string
	maxRetries    int
	retryInterval time.Duration
	exec          Executor
	events        chan DropEvent

	mu      sync.Mutex
	online  bool
	drainMu sync.Mutex
}

// New constructs the queue. The queue starts in the offline state; callers
// flip it with SetOnline.
func New(cfg Config) (*OfflineQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "havenhomes:offline:ops"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &OfflineQueue{
		client:        redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		key:           key,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		exec:          cfg.Executor,
		events:        make(chan DropEvent, 64),
	}, nil
}

// Enqueue appends an operation to the durable buffer.
func (q *OfflineQueue) Enqueue(ctx context.Context, op Operation) (Item, error) {
	if op.Type != OpPatchBuild && op.Type != OpPostBuild {
		return Item{}, ErrUnsupportedOperation
	}
	item := Item{
		ID:         uuid.NewString(),
		Operation:  op,
		Timestamp:  time.Now().UTC(),
		MaxRetries: q.maxRetries,
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return Item{}, err
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Len reports the number of buffered operations.
func (q *OfflineQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Events delivers drop notifications for UI surfacing.
func (q *OfflineQueue) Events() <-chan DropEvent {
	return q.events
}

// Online reports the last known connectivity state.
func (q *OfflineQueue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// SetOnline records a connectivity transition. Going offline→online kicks an
// immediate drain.
func (q *OfflineQueue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()
	if online && !wasOnline {
		_ = q.Drain(ctx)
	}
}

// Start runs the periodic retry timer until ctx is cancelled. While online
// and items remain, each tick attempts a drain.
func (q *OfflineQueue) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(q.retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !q.Online() {
					continue
				}
				n, err := q.Len(ctx)
				if err != nil || n == 0 {
					continue
				}
				_ = q.Drain(ctx)
			}
		}
	}()
}

// Drain replays the snapshot of items present at drain start. A failed item
// is requeued with its retry counter bumped; once the counter reaches
// maxRetries the item is dropped and a DropEvent emitted. Concurrent drains
// are serialized so no item is replayed twice in one cycle.
func (q *OfflineQueue) Drain(ctx context.Context) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload, err := q.client.LPop(ctx, q.key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var item Item
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			// Unreadable entries cannot be replayed; drop them.
			q.emit(DropEvent{Err: "corrupt queue entry"})
			continue
		}
		execErr := q.exec(ctx, item.Operation)
		if execErr == nil {
			continue
		}
		item.Retries++
		if item.Retries >= item.MaxRetries {
			q.emit(DropEvent{Item: item, Err: execErr.Error()})
			continue
		}
		requeued, err := json.Marshal(item)
		if err != nil {
			q.emit(DropEvent{Item: item, Err: err.Error()})
			continue
		}
		if err := q.client.RPush(ctx, q.key, requeued).Err(); err != nil {
			// The item was already popped; surface the loss instead of
			// vanishing it.
			q.emit(DropEvent{Item: item, Err: "requeue failed: " + err.Error()})
			return err
		}
	}
	return nil
}

func (q *OfflineQueue) emit(ev DropEvent) {
	select {
	case q.events <- ev:
	default:
	}
}

// Close releases the Redis connection.
func (q *OfflineQueue) Close() error {
	return q.client.Close()
}
