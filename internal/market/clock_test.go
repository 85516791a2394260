package market

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
)

func TestAbsoluteDayRoundTrip(t *testing.T) {
	for _, d := range []int{1, 28, 29, 56, 112, 113, 250} {
		at := TimeAt(d, 0.25)
		assert.Equal(t, d, at.AbsoluteDay(), "day %d", d)
		assert.Equal(t, 0.25, at.DayProgress)
	}
	assert.Equal(t, SimTime{Year: 2, Season: commodity.Spring, Day: 1}, TimeAt(113, 0))
	assert.Equal(t, 29, SeasonStartDay(1, commodity.Summer))
	assert.Equal(t, 1, TimeAt(-5, 0).AbsoluteDay())
}

func TestSimClockProgress(t *testing.T) {
	c := NewSimClock(4, 1)
	assert.Equal(t, SimTime{Year: 1, Season: commodity.Spring, Day: 1}, c.Now())

	want := []struct {
		day      int
		progress float64
	}{
		{1, 0.25}, {1, 0.5}, {1, 0.75}, {1, 1},
		{2, 0.25},
	}
	for i, w := range want {
		now := c.Advance()
		assert.Equal(t, w.day, now.Day, "tick %d", i+1)
		assert.Equal(t, w.progress, now.DayProgress, "tick %d", i+1)
	}
}

func TestSimClockPause(t *testing.T) {
	c := NewSimClock(4, 10)
	c.Advance()
	c.SetPaused(true)
	now := c.Advance()
	assert.True(t, now.Paused)
	assert.Equal(t, int64(1), c.Tick())
	c.SetPaused(false)
	c.Advance()
	assert.Equal(t, int64(2), c.Tick())

	c.SetTick(8)
	assert.Equal(t, 11, c.Now().AbsoluteDay())
	assert.Equal(t, 1.0, c.Now().DayProgress)
}

func TestResumeClock(t *testing.T) {
	c := ResumeClock(4, TimeAt(30, 0.5))
	assert.Equal(t, TimeAt(30, 0.5), c.Now())
	assert.Equal(t, TimeAt(30, 0.75), c.Advance())

	closed := ResumeClock(4, TimeAt(30, 1))
	assert.Equal(t, TimeAt(31, 0.25), closed.Advance())
}
