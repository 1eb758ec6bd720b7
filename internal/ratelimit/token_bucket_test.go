package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_Burst(t *testing.T) {
	tb := NewTokenBucket(0.001, 3)

	assert.True(t, tb.Allow(1))
	assert.True(t, tb.Allow(2))
	assert.False(t, tb.Allow(1))
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(1000, 1)
	assert.True(t, tb.Allow(1))
	assert.False(t, tb.Allow(1))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, tb.Allow(1))
	assert.LessOrEqual(t, tb.Available(), 1.0)
}

func TestTokenBucket_BurstAtLeastOne(t *testing.T) {
	tb := NewTokenBucket(1, 0)
	assert.Equal(t, 1.0, tb.Available())
	assert.True(t, tb.Allow(1))
}
