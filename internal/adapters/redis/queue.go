package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/internal/domain"
)

// Queue is a Redis list used to hand messages and faults between engine instances.
// It implements ports.Injector and ports.FaultSink.
type Queue struct {
	client *Client
	name   string
}

// NewQueue creates a queue on the given list key.
func NewQueue(client *Client, name string) *Queue {
	return &Queue{
		client: client,
		name:   name,
	}
}

// Inject pushes a message envelope onto the queue.
func (q *Queue) Inject(ctx context.Context, msg *domain.Message) error {
	data, err := domain.Encode(msg)
	if err != nil {
		return err
	}
	return q.push(ctx, data)
}

// Report pushes a fault onto the queue.
func (q *Queue) Report(ctx context.Context, fault domain.Fault) error {
	data, err := json.Marshal(fault)
	if err != nil {
		return fmt.Errorf("marshal fault: %w", err)
	}
	return q.push(ctx, data)
}

func (q *Queue) push(ctx context.Context, data []byte) error {
	if err := q.client.Native().LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", q.name, err)
	}
	return nil
}

// Pop waits up to timeout for the next entry. It returns nil, nil when nothing arrived.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.Native().BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}
	return []byte(res[1]), nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.Native().LLen(ctx, q.name).Result()
}
