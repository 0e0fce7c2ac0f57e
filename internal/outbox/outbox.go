// Package outbox is the durable side-buffer for batches that could not be
// committed to the main store. It lives in redis, independent of postgres,
// so deferred batches survive process restarts and store outages.
package outbox

import (
	"context"
	"encoding/json"

	"github.com/cbram/travel-companion-sub002/internal/tracking"

	"github.com/redis/go-redis/v9"
)

type Outbox struct {
	rdb        *redis.Client
	listKey    string
	pendingKey string
}

func New(rdb *redis.Client, key string) *Outbox {
	return &Outbox{
		rdb:        rdb,
		listKey:    key,
		pendingKey: key + ":pending",
	}
}

// Push appends a batch to the tail of the list, preserving insertion order,
// and mirrors its waypoint count in the pending counter.
func (o *Outbox) Push(ctx context.Context, batch *tracking.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	pipe := o.rdb.TxPipeline()
	pipe.RPush(ctx, o.listKey, data)
	pipe.IncrBy(ctx, o.pendingKey, int64(len(batch.Waypoints)))
	_, err = pipe.Exec(ctx)
	return err
}

// Pending returns the number of waypoints waiting for replay.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	n, err := o.rdb.Get(ctx, o.pendingKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Entries returns the number of deferred batches.
func (o *Outbox) Entries(ctx context.Context) (int64, error) {
	return o.rdb.LLen(ctx, o.listKey).Result()
}

// Replay walks entries oldest-first, committing each and removing it only
// after the commit succeeds. A crash between commit and removal replays the
// entry once more, which the batch's idempotent key makes harmless. Replay
// stops at the first commit error or when the context budget expires.
func (o *Outbox) Replay(ctx context.Context, commit func(context.Context, *tracking.Batch) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := o.rdb.LIndex(ctx, o.listKey, 0).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var batch tracking.Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			// Corrupt entry: drop it rather than wedge the queue.
			o.remove(ctx, 0)
			continue
		}

		batch.AttemptCount++
		if err := commit(ctx, &batch); err != nil {
			return err
		}
		o.remove(ctx, len(batch.Waypoints))
	}
}

func (o *Outbox) remove(ctx context.Context, waypoints int) {
	pipe := o.rdb.TxPipeline()
	pipe.LPop(ctx, o.listKey)
	if waypoints > 0 {
		pipe.DecrBy(ctx, o.pendingKey, int64(waypoints))
	}
	_, _ = pipe.Exec(ctx)
}
