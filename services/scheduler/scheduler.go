package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/carryover"
)

const (
	leaderKey     = "carryover:leader"
	watermarkKey  = "carryover:watermark"
	leaderTTL     = 30 * time.Second
	checkInterval = 15 * time.Second

	// A pass window never reaches further back than one period length
	// plus slack, so a fresh deployment does not churn through history.
	maxLookback = 35 * 24 * time.Hour
)

// Scheduler fires carry-over passes on a cron cadence with Redis leader
// election, so several replicas can run and exactly one does the work.
//
// The cutoff window of each pass starts at a persisted watermark and ends
// at the wall clock; the watermark advances only after the pass returns.
// A crash mid-pass means the next leader re-runs the same window, which
// the pass absorbs.
type Scheduler struct {
	runner     *carryover.Runner
	redis      *redis.Client
	schedule   cron.Schedule
	instanceID string
	now        func() time.Time
	logger     *slog.Logger
}

// NewScheduler constructs a Scheduler. cadence is a standard 5-field cron
// expression describing when passes are due.
func NewScheduler(
	runner *carryover.Runner,
	redisClient *redis.Client,
	cadence string,
	instanceID string,
	logger *slog.Logger,
) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cadence)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:     runner,
		redis:      redisClient,
		schedule:   schedule,
		instanceID: instanceID,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Run is the main polling loop: tries to become leader, then fires a pass
// when one is due. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run once immediately before waiting for the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.acquireOrRenewLeadership(ctx) {
		return
	}

	now := s.now().UTC()
	watermark, err := s.loadWatermark(ctx, now)
	if err != nil {
		s.logger.Error("load watermark", slog.String("error", err.Error()))
		return
	}

	if s.schedule.Next(watermark).After(now) {
		return // not due yet
	}

	summary, err := s.runner.RunPass(ctx, watermark, now)
	if err != nil {
		s.logger.Error("carry-over pass", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled carry-over pass done",
		slog.Time("since", watermark),
		slog.Time("until", now),
		slog.Int("owners", summary.Owners),
		slog.Int("migrated", summary.Migrated),
		slog.Int("parked", summary.Parked),
		slog.Int("failed", summary.Failed),
	)

	// Advance only after the pass: a crash before this line re-runs the
	// window, never skips it.
	if err := s.redis.Set(ctx, watermarkKey, now.Format(time.RFC3339Nano), 0).Err(); err != nil {
		s.logger.Error("store watermark", slog.String("error", err.Error()))
	}
}

// loadWatermark reads the last pass boundary, clamped to maxLookback.
func (s *Scheduler) loadWatermark(ctx context.Context, now time.Time) (time.Time, error) {
	floor := now.Add(-maxLookback)

	val, err := s.redis.Get(ctx, watermarkKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return floor, nil
		}
		return time.Time{}, err
	}
	watermark, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		s.logger.Warn("unparseable watermark, starting from lookback floor",
			slog.String("value", val))
		return floor, nil
	}
	if watermark.Before(floor) {
		return floor, nil
	}
	return watermark, nil
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance
// is the leader.
func (s *Scheduler) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired carry-over leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set — renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}
