package simcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feeParams struct {
	Kind   string `json:"kind"`
	Wallet string `json:"wallet"`
}

func TestGetOrExecuteCachesWithinTTL(t *testing.T) {
	c := New(60 * time.Second)
	defer c.Close()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return uint64(5000), nil
	}

	params := feeParams{Kind: "priority-fee", Wallet: "W1"}
	first, err := c.GetOrExecute(context.Background(), params, compute)
	require.NoError(t, err)
	second, err := c.GetOrExecute(context.Background(), params, compute)
	require.NoError(t, err)

	assert.Equal(t, uint64(5000), first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second call within the TTL must hit the cache")
}

func TestGetOrExecuteRecomputesAfterTTL(t *testing.T) {
	c := New(60 * time.Second)
	defer c.Close()

	base := time.Now()
	c.now = func() time.Time { return base }

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	params := feeParams{Kind: "priority-fee", Wallet: "W1"}
	_, err := c.GetOrExecute(context.Background(), params, compute)
	require.NoError(t, err)

	c.now = func() time.Time { return base.Add(61 * time.Second) }
	value, err := c.GetOrExecute(context.Background(), params, compute)
	require.NoError(t, err)

	assert.Equal(t, 2, value)
	assert.Equal(t, 2, calls, "entry older than the TTL must be recomputed")
}

func TestGetOrExecuteDistinctKeys(t *testing.T) {
	c := New(60 * time.Second)
	defer c.Close()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := c.GetOrExecute(context.Background(), feeParams{Wallet: "W1"}, compute)
	require.NoError(t, err)
	_, err = c.GetOrExecute(context.Background(), feeParams{Wallet: "W2"}, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetOrExecuteErrorNotCached(t *testing.T) {
	c := New(60 * time.Second)
	defer c.Close()

	calls := 0
	_, err := c.GetOrExecute(context.Background(), feeParams{Wallet: "W1"}, func(ctx context.Context) (any, error) {
		calls++
		return nil, assert.AnError
	})
	require.Error(t, err)

	value, err := c.GetOrExecute(context.Background(), feeParams{Wallet: "W1"}, func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 2, calls)
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()

	_, err := c.GetOrExecute(context.Background(), feeParams{Wallet: "W1"}, func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.entries) == 0
	}, time.Second, 10*time.Millisecond)
}
