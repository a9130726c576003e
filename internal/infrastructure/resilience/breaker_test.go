package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCall = errors.New("call failed")

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Unix(1000, 0)} }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func result(ok bool) func() error {
	return func() error {
		if ok {
			return nil
		}
		return errCall
	}
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name  string
		calls []bool
		want  State
	}{
		{"stays closed on success", []bool{true, true, true}, StateClosed},
		{"trips on consecutive failures", []bool{false, false, false}, StateOpen},
		{"success resets the run", []bool{false, false, true, false, false}, StateClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", Settings{
				Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
				Now:  newClock().now,
			})
			for _, ok := range tt.calls {
				_ = b.Do(result(ok))
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerOpenFailsFast(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Cooldown: time.Second, Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }, Now: c.now})

	assert.ErrorIs(t, b.Do(result(false)), errCall)
	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreakerRecovers(t *testing.T) {
	c := newClock()
	var changes []string
	b := New("link", Settings{
		Probes:   2,
		Cooldown: time.Second,
		Trip:     func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		Now:      c.now,
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	require.Error(t, b.Do(result(false)))
	c.advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(result(true)))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Do(result(true)))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, changes)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Cooldown: time.Second, Trip: func(c Counts) bool { return true }, Now: c.now})

	_ = b.Do(result(false))
	c.advance(2 * time.Second)
	_ = b.Do(result(false))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerProbeLimit(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Cooldown: time.Second, Trip: func(c Counts) bool { return true }, Now: c.now})

	_ = b.Do(result(false))
	c.advance(2 * time.Second)

	err := b.Do(func() error {
		return b.Do(result(true))
	})
	assert.ErrorIs(t, err, ErrProbeLimit)
}

func TestBreakerWindowResetsCounts(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Window: time.Second, Now: c.now})

	_ = b.Do(result(false))
	assert.Equal(t, uint32(1), b.Counts().Failures)

	c.advance(2 * time.Second)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().Failures)
}

func TestBreakerCountsPanics(t *testing.T) {
	b := New("link", Settings{Now: newClock().now})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, uint32(1), b.Counts().Failures)
}

func TestBreakerIgnoresCallerGivingUp(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Trip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }, Now: c.now})

	assert.ErrorIs(t, b.Do(func() error { return context.Canceled }), context.Canceled)
	err := b.Do(func() error { return fmt.Errorf("write: %w", context.DeadlineExceeded) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())

	_ = b.Do(result(false))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoredProbeFreesSlot(t *testing.T) {
	c := newClock()
	b := New("link", Settings{Cooldown: time.Second, Trip: func(c Counts) bool { return true }, Now: c.now})

	_ = b.Do(result(false))
	c.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Do(func() error { return context.Canceled })
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(result(true)))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCustomFailureFilter(t *testing.T) {
	remote := errors.New("app not found")
	b := New("link", Settings{
		Trip:      func(c Counts) bool { return true },
		IsFailure: func(err error) bool { return !errors.Is(err, remote) },
		Now:       newClock().now,
	})

	_ = b.Do(func() error { return remote })
	assert.Equal(t, StateClosed, b.State())
	_ = b.Do(result(false))
	assert.Equal(t, StateOpen, b.State())
}
