//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
)

// newRedisClient returns a client connected to the test container and flushes
// the database on test cleanup so tests don't interfere with each other.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

// ── Carry-over settings ──────────────────────────────────────────────────────

func TestSettings_MissingMeansEnabled(t *testing.T) {
	store := redisstore.NewSettingsStore(newRedisClient(t))

	enabled, err := store.CarryEnabled(context.Background(), "owner-without-setting")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestSettings_ExplicitOptOut(t *testing.T) {
	client := newRedisClient(t)
	store := redisstore.NewSettingsStore(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "settings:carryover:owner-off", "0", 0).Err())
	require.NoError(t, client.Set(ctx, "settings:carryover:owner-false", "false", 0).Err())
	require.NoError(t, client.Set(ctx, "settings:carryover:owner-on", "1", 0).Err())

	enabled, err := store.CarryEnabled(ctx, "owner-off")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = store.CarryEnabled(ctx, "owner-false")
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = store.CarryEnabled(ctx, "owner-on")
	require.NoError(t, err)
	assert.True(t, enabled)
}

// ── Completion ledger ────────────────────────────────────────────────────────

func TestLedger_FirstApplicationOnlyOnce(t *testing.T) {
	ledger := redisstore.NewCompletionLedger(newRedisClient(t))
	ctx := context.Background()

	first, err := ledger.FirstApplication(ctx, "task-1", "period-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := ledger.FirstApplication(ctx, "task-1", "period-1")
	require.NoError(t, err)
	assert.False(t, second, "same (task, period) pair claims only once")

	// A different period is an independent claim.
	other, err := ledger.FirstApplication(ctx, "task-1", "period-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestLedger_ForgetReopensTheClaim(t *testing.T) {
	ledger := redisstore.NewCompletionLedger(newRedisClient(t))
	ctx := context.Background()

	first, err := ledger.FirstApplication(ctx, "task-1", "period-1")
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, ledger.Forget(ctx, "task-1", "period-1"))

	again, err := ledger.FirstApplication(ctx, "task-1", "period-1")
	require.NoError(t, err)
	assert.True(t, again, "forgotten claims can be re-applied")
}

// ── Rate limiter ─────────────────────────────────────────────────────────────

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 5, time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "within-limit")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_DeniesOverLimit(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "over-limit")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "over-limit")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request in the window must be denied")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 1, 500*time.Millisecond)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "slide")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "slide")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(700 * time.Millisecond)

	ok, err = limiter.Allow(ctx, "slide")
	require.NoError(t, err)
	assert.True(t, ok, "a new window admits requests again")
}

func TestRateLimiter_IsolatesOwners(t *testing.T) {
	limiter := redisstore.NewRateLimiter(newRedisClient(t), 1, time.Second)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "owner-b")
	require.NoError(t, err)
	assert.True(t, ok, "owners have independent windows")
}
