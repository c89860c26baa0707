package client

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := NewCircuitBreaker(3, 100*time.Millisecond)
	cb.now = func() time.Time { return clock }

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.Failure()
	cb.Failure()
	assert.Equal(t, StateClosed, cb.State(), "two failures keep the breaker closed")

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	clock = clock.Add(150 * time.Millisecond)
	assert.True(t, cb.Allow(), "trial call after timeout")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial call at a time")

	// failed trial call reopens
	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())

	clock = clock.Add(150 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.failures)
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	boom := errors.New("boom")

	assert.NoError(t, cb.Do(func() error { return nil }))
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State().String())

	called := false
	err := cb.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}
