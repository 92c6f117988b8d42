package hitl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatePassesWhenRunning(t *testing.T) {
	c := New()
	d, err := c.Gate(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestPauseBlocksUntilResume(t *testing.T) {
	c := New()
	require.NoError(t, c.Pause())

	var mu sync.Mutex
	var seen []Mode
	blocked := make(chan struct{})
	done := make(chan *Directive)
	go func() {
		d, err := c.Gate(context.Background(), func(m Mode) {
			mu.Lock()
			seen = append(seen, m)
			mu.Unlock()
			if m == Paused {
				close(blocked)
			}
		})
		assert.NoError(t, err)
		done <- d
	}()

	<-blocked
	select {
	case <-done:
		t.Fatal("Gate не должен возвращаться во время паузы")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.Resume("open pricing", true))
	select {
	case d := <-done:
		require.NotNil(t, d)
		assert.Equal(t, "open pricing", d.Instructions)
		assert.True(t, d.Append)
	case <-time.After(time.Second):
		t.Fatal("Gate не вернулся после Resume")
	}

	mu.Lock()
	assert.Equal(t, []Mode{Paused}, seen)
	mu.Unlock()

	d, err := c.Gate(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, d, "инструкции выдаются один раз")
}

func TestTakeAndReleaseControl(t *testing.T) {
	c := New()
	require.NoError(t, c.Pause())
	require.NoError(t, c.TakeControl())
	assert.Equal(t, Operator, c.Mode())

	modes := make(chan Mode, 4)
	done := make(chan error, 1)
	go func() {
		_, err := c.Gate(context.Background(), func(m Mode) { modes <- m })
		done <- err
	}()

	assert.Equal(t, Operator, <-modes)
	require.NoError(t, c.ReleaseControl())
	require.NoError(t, <-done)
	assert.Equal(t, Running, c.Mode())
}

func TestCancelUnblocksGate(t *testing.T) {
	c := New()
	require.NoError(t, c.Pause())

	done := make(chan error, 1)
	go func() {
		_, err := c.Gate(context.Background(), nil)
		done <- err
	}()
	c.Cancel()
	assert.ErrorIs(t, <-done, ErrCancelled)

	// повторная отмена безопасна
	c.Cancel()
	assert.Equal(t, Cancelled, c.Mode())
	assert.ErrorIs(t, c.Resume("", false), ErrInvalidTransition)
	assert.ErrorIs(t, c.Pause(), ErrInvalidTransition)
}

func TestGateHonoursContext(t *testing.T) {
	c := New()
	require.NoError(t, c.Pause())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Gate(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidTransitions(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.ReleaseControl(), ErrInvalidTransition)
	require.NoError(t, c.Pause())
	require.NoError(t, c.Pause())
	assert.Equal(t, Paused, c.Mode())
}

func TestOTP(t *testing.T) {
	c := New()
	_, ok := c.TakeOTP()
	assert.False(t, ok)

	assert.Error(t, c.SupplyOTP("  "))
	require.NoError(t, c.SupplyOTP(" 123456 "))

	code, ok := c.TakeOTP()
	assert.True(t, ok)
	assert.Equal(t, "123456", code)
	_, ok = c.TakeOTP()
	assert.False(t, ok)
}
