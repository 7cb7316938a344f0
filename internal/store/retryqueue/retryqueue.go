// Package retryqueue backs the best-effort retry path §7 allows for a
// failed end-of-game persistence write: in-memory state is always
// cleaned up immediately, but the write itself is pushed onto a Redis
// list and drained by a background worker with backoff, instead of
// being dropped. Grounded on the go-redis usage in the pack's
// cryptorun/ocx-backend repos.
package retryqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"api/internal/store"
)

const listKey = "arena:game_end_retry"

// Queue pushes failed GameEndBatch writes to Redis and retries them
// against a Store until they succeed.
type Queue struct {
	rdb *redis.Client
	log *slog.Logger
}

// New wraps an existing Redis client.
func New(rdb *redis.Client, log *slog.Logger) *Queue {
	return &Queue{rdb: rdb, log: log}
}

// Push enqueues a batch that failed to persist synchronously.
func (q *Queue) Push(ctx context.Context, batch store.GameEndBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, listKey, data).Err()
}

// Run drains the queue against st until ctx is cancelled, backing off
// between empty polls and between repeated failures of the same batch.
func (q *Queue) Run(ctx context.Context, st store.Store) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.rdb.LPop(ctx, listKey).Result()
		if err == redis.Nil {
			time.Sleep(2 * time.Second)
			continue
		}
		if err != nil {
			q.log.Warn("retry queue pop failed", "error", err)
			time.Sleep(backoff)
			continue
		}

		var batch store.GameEndBatch
		if err := json.Unmarshal([]byte(res), &batch); err != nil {
			q.log.Error("retry queue dropped unparseable batch", "error", err)
			continue
		}

		if err := st.CommitGameEnd(ctx, batch); err != nil {
			q.log.Warn("retry of game-end commit failed, re-queueing", "game", batch.GameID, "error", err)
			q.rdb.RPush(ctx, listKey, res)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		q.log.Info("retry queue committed deferred game-end write", "game", batch.GameID)
	}
}
