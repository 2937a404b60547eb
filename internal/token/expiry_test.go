package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/florianilch/tokenward/internal/token"
)

func TestExpired(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		buffer    time.Duration
		expired   bool
	}{
		{
			name:      "far future with small buffer",
			expiresAt: now.Add(1 * time.Hour),
			buffer:    5 * time.Minute,
			expired:   false,
		},
		{
			name:      "already past",
			expiresAt: now.Add(-1 * time.Second),
			buffer:    0,
			expired:   true,
		},
		{
			name:      "exact boundary counts as expired",
			expiresAt: now.Add(5 * time.Minute),
			buffer:    5 * time.Minute,
			expired:   true,
		},
		{
			name:      "one nanosecond inside the buffer",
			expiresAt: now.Add(5*time.Minute + time.Nanosecond),
			buffer:    5 * time.Minute,
			expired:   false,
		},
		{
			name:      "expires in 200s, 300s buffer",
			expiresAt: now.Add(200 * time.Second),
			buffer:    300 * time.Second,
			expired:   true,
		},
		{
			name:      "expires in 200s, 60s buffer",
			expiresAt: now.Add(200 * time.Second),
			buffer:    60 * time.Second,
			expired:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, token.Expired(tt.expiresAt, now, tt.buffer))
		})
	}
}

// A larger buffer must never report a token as less expired than a smaller one.
func TestExpiredMonotonicInBuffer(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(7 * time.Minute)

	prev := false
	for buffer := time.Duration(0); buffer <= 15*time.Minute; buffer += time.Minute {
		cur := token.Expired(expiresAt, now, buffer)
		if prev {
			assert.True(t, cur, "buffer %s flipped back to not-expired", buffer)
		}
		prev = cur
	}
	assert.True(t, prev, "widest buffer should report expired")
}

func TestRecordExpiry(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	c := token.ClientCredentials{ExpiresAt: now.Add(200 * time.Second)}
	assert.True(t, c.Expired(now, token.RequestBuffer))
	assert.False(t, c.Expired(now, 60*time.Second))
	assert.Equal(t, 200*time.Second, c.TTL(now))

	u := token.UserToken{ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, u.Expired(now, 0))
	assert.Negative(t, u.TTL(now))
}
