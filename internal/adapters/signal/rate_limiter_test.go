package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventRateLimiterWindow(t *testing.T) {
	rl := NewEventRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u"))
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("u"))
}

func TestEventRateLimiterForget(t *testing.T) {
	rl := NewEventRateLimiter(1, time.Hour)
	assert.True(t, rl.Allow("u"))
	assert.False(t, rl.Allow("u"))
	rl.Forget("u")
	assert.True(t, rl.Allow("u"))
}

func TestEventRateLimiterDisabled(t *testing.T) {
	rl := NewEventRateLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("u"))
	}
}
