package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitExceededError_IsRateLimited(t *testing.T) {
	err := fmt.Errorf("tool call: %w", &LimitExceededError{Key: "user:u1", Limit: 2, RetryAfter: 3 * time.Second})

	require.ErrorIs(t, err, ErrRateLimited)
	le, ok := AsLimitExceeded(err)
	require.True(t, ok)
	assert.Equal(t, Key("user:u1"), le.Key)
	assert.Equal(t, int64(2), le.Limit)
	assert.Equal(t, 3*time.Second, le.RetryAfter)
	assert.False(t, IsInfrastructure(err))
}

func TestIsInfrastructure(t *testing.T) {
	assert.False(t, IsInfrastructure(nil))
	assert.False(t, IsInfrastructure(ErrInvalidResource))
	assert.True(t, IsInfrastructure(errors.New("dial tcp 127.0.0.1:6379: connection refused")))
}
