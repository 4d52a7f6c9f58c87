package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	sends := 0
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		sends++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sends)
}

func TestDo_RecoversFromTransientFailures(t *testing.T) {
	sends := 0
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		sends++
		if sends < 3 {
			return errors.New("smtp: connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sends, "two failed sends then success")
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	relayDown := errors.New("smtp: relay unavailable")
	sends := 0
	err := Do(context.Background(), 3, 10*time.Millisecond, func() error {
		sends++
		return relayDown
	})
	assert.ErrorIs(t, err, relayDown)
	assert.Equal(t, 3, sends)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	rejected := errors.New("smtp: recipient rejected")
	sends := 0
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		sends++
		return Permanent(rejected)
	})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, sends, "a rejected recipient is not worth retrying")
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var sends atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		sends.Add(1)
		return errors.New("smtp: timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, sends.Load(), int32(3), "cancellation must cut the attempt budget short")
}

func TestDo_ZeroAttemptsRoundsUpToOne(t *testing.T) {
	sends := 0
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		sends++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sends)
}

func TestDo_WaitsBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	err := Do(context.Background(), 4, 20*time.Millisecond, func() error {
		stamps = append(stamps, time.Now())
		if len(stamps) < 4 {
			return errors.New("smtp: busy")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, stamps, 4)

	// Base delay is 20ms doubling per attempt; jitter makes exact gaps
	// unpredictable, so only assert a floor.
	for i := 1; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 5*time.Millisecond)
	}
}

func TestPermanentError_Unwraps(t *testing.T) {
	inner := errors.New("mail body too large")
	err := Permanent(inner)

	assert.ErrorIs(t, err, inner)
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}
