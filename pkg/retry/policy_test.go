package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{80, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayJitter(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, Policy{}.Attempts())
	assert.Equal(t, 1, Policy{MaxRetries: -2}.Attempts())
	assert.Equal(t, 4, Policy{MaxRetries: 4}.Attempts())
	assert.Equal(t, 3, DefaultPolicy().Attempts())
}

func TestPolicy_WithBase(t *testing.T) {
	assert.Equal(t, 5*time.Second, Policy{BaseDelay: 5 * time.Second}.withBase(time.Second).BaseDelay)
	assert.Equal(t, 2*time.Second, Policy{}.withBase(2*time.Second).BaseDelay)
	assert.Equal(t, time.Second, Policy{}.withBase(0).BaseDelay)
}
