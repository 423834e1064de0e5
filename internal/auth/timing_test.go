package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func recordingDelay(config TimingConfig) (*TimingDelay, *[]time.Duration) {
	var slept []time.Duration
	td := NewTimingDelay(config)
	td.sleep = func(d time.Duration) { slept = append(slept, d) }
	return td, &slept
}

func TestTimingDelay_WaitFrom_OnFailure(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond, RandomDelay: 50 * time.Millisecond})

	td.WaitFrom(time.Now(), false)

	if assert.Len(t, *slept, 1) {
		assert.LessOrEqual(t, (*slept)[0], 150*time.Millisecond)
		assert.Greater(t, (*slept)[0], 50*time.Millisecond)
	}
}

func TestTimingDelay_WaitFrom_OnSuccess_NoDelay(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond})

	td.WaitFrom(time.Now(), true)

	assert.Empty(t, *slept)
}

func TestTimingDelay_WaitFrom_DelayOnSuccess(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond, DelayOnSuccess: true})

	td.WaitFrom(time.Now(), true)

	assert.Len(t, *slept, 1)
}

func TestTimingDelay_WaitFrom_AlreadyElapsed(t *testing.T) {
	td, slept := recordingDelay(TimingConfig{BaseDelay: 100 * time.Millisecond})

	td.WaitFrom(time.Now().Add(-time.Second), false)

	assert.Empty(t, *slept, "no sleep once the target has passed")
}
