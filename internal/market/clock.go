package market

import (
	"fmt"
	"math"
	"sync"

	"github.com/ndrandal/harvest-exchange/internal/commodity"
)

// SimTime is a point on the simulated calendar. Day is 1-based within the
// season; DayProgress is in [0, 1] and reaches 1 on the closing tick.
type SimTime struct {
	Year        int              `json:"year"`
	Season      commodity.Season `json:"season"`
	Day         int              `json:"day"`
	DayProgress float64          `json:"dayProgress"`
	Paused      bool             `json:"paused"`
}

// AbsoluteDay numbers days from 1 at spring day 1 of year 1.
func (t SimTime) AbsoluteDay() int {
	return (t.Year-1)*4*commodity.DaysPerSeason + int(t.Season)*commodity.DaysPerSeason + t.Day
}

func (t SimTime) String() string {
	return fmt.Sprintf("Y%d %s %02d %.3f", t.Year, t.Season, t.Day, t.DayProgress)
}

// TimeAt converts an absolute day and progress back to a calendar time.
func TimeAt(absDay int, progress float64) SimTime {
	if absDay < 1 {
		absDay = 1
	}
	d := absDay - 1
	yearLen := 4 * commodity.DaysPerSeason
	return SimTime{
		Year:        d/yearLen + 1,
		Season:      commodity.Season((d % yearLen) / commodity.DaysPerSeason),
		Day:         d%commodity.DaysPerSeason + 1,
		DayProgress: progress,
	}
}

// SeasonStartDay returns the absolute day on which season s of year begins.
func SeasonStartDay(year int, s commodity.Season) int {
	return SimTime{Year: year, Season: s, Day: 1}.AbsoluteDay()
}

// Clock supplies the simulated time. The market never reads the wall clock.
type Clock interface {
	Now() SimTime
}

// SimClock maps a tick counter onto the calendar: ticksPerDay ticks per day,
// the last one landing exactly on the close.
type SimClock struct {
	mu          sync.Mutex
	ticksPerDay int
	startDay    int
	tick        int64
	paused      bool
}

// NewSimClock creates a clock starting before the first tick of startDay.
func NewSimClock(ticksPerDay, startDay int) *SimClock {
	if ticksPerDay < 1 {
		ticksPerDay = 1
	}
	if startDay < 1 {
		startDay = 1
	}
	return &SimClock{ticksPerDay: ticksPerDay, startDay: startDay}
}

// TicksPerDay returns the day resolution.
func (c *SimClock) TicksPerDay() int { return c.ticksPerDay }

// Now returns the current simulated time.
func (c *SimClock) Now() SimTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *SimClock) nowLocked() SimTime {
	var t SimTime
	if c.tick == 0 {
		t = TimeAt(c.startDay, 0)
	} else {
		n := int64(c.ticksPerDay)
		idx := c.tick - 1
		t = TimeAt(c.startDay+int(idx/n), float64(idx%n+1)/float64(n))
	}
	t.Paused = c.paused
	return t
}

// Advance moves one tick forward unless paused and returns the new time.
func (c *SimClock) Advance() SimTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.tick++
	}
	return c.nowLocked()
}

// SetPaused suspends or resumes the clock.
func (c *SimClock) SetPaused(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

// Tick returns the tick counter for persistence.
func (c *SimClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// SetTick restores the tick counter.
func (c *SimClock) SetTick(t int64) {
	c.mu.Lock()
	if t < 0 {
		t = 0
	}
	c.tick = t
	c.mu.Unlock()
}

// ResumeClock returns a clock whose next Advance is the tick after t, for
// continuing from a restored snapshot.
func ResumeClock(ticksPerDay int, t SimTime) *SimClock {
	c := NewSimClock(ticksPerDay, t.AbsoluteDay())
	c.SetTick(int64(math.Round(t.DayProgress * float64(c.ticksPerDay))))
	return c
}
