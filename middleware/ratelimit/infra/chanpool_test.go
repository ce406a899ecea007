package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanPool_AcquireRelease(t *testing.T) {
	p := NewChanPool(2)
	require.Equal(t, 2, p.Capacity())

	r1, ok := p.Acquire(context.Background())
	require.True(t, ok)
	r2, ok := p.Acquire(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, p.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	assert.False(t, ok, "pool is full")

	r1()
	r2()
	assert.Equal(t, 0, p.InFlight())
}

func TestChanPool_CanceledContextNeverAcquires(t *testing.T) {
	p := NewChanPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := p.Acquire(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, p.InFlight())
}

func TestChanPool_MinimumCapacity(t *testing.T) {
	assert.Equal(t, 1, NewChanPool(0).Capacity())
}
