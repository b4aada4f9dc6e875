package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestry/attestry/pkg/contracts"
)

func TestMemoryResultCacheReplay(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(time.Hour)

	_, hit, err := c.Lookup(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, hit)

	recorded := contracts.VerificationResult{
		RequestID: "req-1",
		ReceiptID: "r-1",
		Overall:   contracts.StatusVerified,
	}
	require.NoError(t, c.Record(ctx, "req-1", recorded))

	got, hit, err := c.Lookup(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, recorded, got)

	// a different request id is a miss
	_, hit, err = c.Lookup(ctx, "req-2")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryResultCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(time.Nanosecond)

	require.NoError(t, c.Record(ctx, "req-1", contracts.VerificationResult{RequestID: "req-1"}))
	time.Sleep(10 * time.Millisecond)

	_, hit, err := c.Lookup(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, hit)
}
