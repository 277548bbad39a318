package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Completion facts only need to outlive the event feed's redelivery
// horizon plus a couple of period lengths.
const ledgerTTL = 90 * 24 * time.Hour

func ledgerKey(taskID, periodID string) string {
	return "progress:applied:" + taskID + ":" + periodID
}

// CompletionLedger records which task completions have already been counted
// against which periods, so an at-least-once event feed can be consumed
// safely: a redelivered completion is applied at most once per period.
type CompletionLedger interface {
	// FirstApplication returns true exactly once per (task, period) pair.
	// Subsequent calls return false until the record expires.
	FirstApplication(ctx context.Context, taskID, periodID string) (bool, error)
	// Forget removes the record so a later delivery can re-apply. Used when
	// the counter write that followed a successful claim failed.
	Forget(ctx context.Context, taskID, periodID string) error
}

type completionLedger struct {
	client *redis.Client
}

// NewCompletionLedger creates a Redis-backed CompletionLedger.
func NewCompletionLedger(client *redis.Client) CompletionLedger {
	return &completionLedger{client: client}
}

func (l *completionLedger) FirstApplication(ctx context.Context, taskID, periodID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerKey(taskID, periodID), "1", ledgerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim for task %s period %s: %w", taskID, periodID, err)
	}
	return ok, nil
}

func (l *completionLedger) Forget(ctx context.Context, taskID, periodID string) error {
	if err := l.client.Del(ctx, ledgerKey(taskID, periodID)).Err(); err != nil {
		return fmt.Errorf("ledger forget for task %s period %s: %w", taskID, periodID, err)
	}
	return nil
}
