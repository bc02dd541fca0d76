package core

import (
	"strings"
	"testing"
	"time"
)

func TestMetricsPartialWindowAndCounts(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT)-1; i++ {
		m.Committed()
		m.Completed(2 * time.Millisecond)
	}
	if m.AverageGPUTime() != 0 {
		t.Errorf("average before a full window = %s", m.AverageGPUTime())
	}
	m.Committed()
	m.Completed(2 * time.Millisecond)
	if got := m.AverageGPUTime(); got != 2*time.Millisecond {
		t.Errorf("average = %s", got)
	}

	m.Committed()
	m.Committed()
	m.Failed()
	committed, completed, failed := m.Counts()
	if committed != uint64(AVG_COUNT)+2 || completed != uint64(AVG_COUNT) || failed != 1 {
		t.Errorf("counts %d %d %d", committed, completed, failed)
	}
	if m.InFlight() != 1 {
		t.Errorf("in flight = %d", m.InFlight())
	}
}

func TestDefaultLabel(t *testing.T) {
	a, b := DefaultLabel("Buffer"), DefaultLabel("Buffer")
	if !strings.HasPrefix(a, "Buffer-") || len(a) != len("Buffer-")+8 || a == b {
		t.Errorf("labels %q %q", a, b)
	}
}

func TestClockMeasures(t *testing.T) {
	c := NewClock()
	c.Update()
	if c.Elapsed() != 0 {
		t.Error("unstarted clock advanced")
	}
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
	e := c.Elapsed()
	if e < 5*time.Millisecond {
		t.Errorf("elapsed %s", e)
	}
	time.Sleep(time.Millisecond)
	c.Update()
	if c.Elapsed() != e {
		t.Error("stopped clock advanced")
	}
	if Seconds(time.Time{}) != 0 || Seconds(time.Now()) <= 0 {
		t.Error("Seconds")
	}
}
