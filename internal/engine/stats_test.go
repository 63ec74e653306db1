package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsIntervalCounting(t *testing.T) {
	s := NewStats(30)

	for i := 0; i < 21; i++ {
		s.RecordFrame(true)
	}
	for i := 0; i < 9; i++ {
		s.RecordFrame(false)
	}

	assert.Equal(t, 30, s.IntervalFrames())
	assert.Equal(t, 21, s.CloseInterval())
	assert.Equal(t, 0, s.IntervalFrames())
	assert.Equal(t, uint64(30), s.TotalFrames())
}

func TestStatsCloseIntervalResetsUnsafe(t *testing.T) {
	s := NewStats(30)

	s.RecordFrame(true)
	s.CloseInterval()
	s.RecordFrame(false)

	assert.Equal(t, 0, s.CloseInterval())
}

func TestStatsResetIntervalDropsBacklog(t *testing.T) {
	s := NewStats(30)

	// Frames piled up while clip saving was disabled.
	for i := 0; i < 50; i++ {
		s.RecordFrame(true)
	}
	s.ResetInterval()

	assert.Equal(t, 0, s.IntervalFrames())
	assert.Equal(t, 0, s.CloseInterval())
	assert.Equal(t, uint64(50), s.TotalFrames())
}

func TestStatsEventTime(t *testing.T) {
	s := NewStats(30)
	assert.True(t, s.LastEventTime().IsZero())

	now := time.Now()
	s.MarkEvent(now)
	assert.Equal(t, now, s.LastEventTime())
}

func TestStatsFPSPositiveUnderLoad(t *testing.T) {
	s := NewStats(10)
	for i := 0; i < 10; i++ {
		s.RecordFrame(false)
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, s.FPS(), 0.0)
}
