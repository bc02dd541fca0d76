package core

import "time"

// Clock measures wall time between Start and Stop. Command buffers use it to
// report the span between submission and fence completion.
type Clock struct {
	startTime time.Time
	elapsed   time.Duration
}

func NewClock() *Clock {
	return &Clock{}
}

// Updates the provided clock. Should be called just before checking elapsed time.
// Has no effect on non-started clocks.
func (c *Clock) Update() {
	if !c.startTime.IsZero() {
		c.elapsed = time.Since(c.startTime)
	}
}

// Starts the provided clock. Resets elapsed time.
func (c *Clock) Start() {
	c.startTime = time.Now()
	c.elapsed = 0
}

// Stops the provided clock. Does not reset elapsed time.
func (c *Clock) Stop() {
	c.Update()
	c.startTime = time.Time{}
}

func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// Seconds converts t to Metal's time interval representation:
// seconds since the process clock origin.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(processStart).Seconds()
}

var processStart = time.Now()
