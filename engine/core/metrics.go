package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// Metrics keeps a rolling average of command buffer GPU time and simple
// submission counters. Each command queue owns one.
type Metrics struct {
	mu sync.Mutex

	avgCounter uint8
	msTimes    [AVG_COUNT]float64
	msAvg      float64

	committed uint64
	completed uint64
	failed    uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Committed() {
	m.mu.Lock()
	m.committed++
	m.mu.Unlock()
}

func (m *Metrics) Failed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

// Completed records one finished command buffer and its GPU duration.
func (m *Metrics) Completed(gpuTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completed++
	ms := float64(gpuTime) / float64(time.Millisecond)
	m.msTimes[m.avgCounter] = ms
	if m.avgCounter == AVG_COUNT-1 {
		var sum float64
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.avgCounter++
	m.avgCounter %= AVG_COUNT
}

// AverageGPUTime returns the average over the last full window of AVG_COUNT
// completions, or zero until the first window fills.
func (m *Metrics) AverageGPUTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.msAvg * float64(time.Millisecond))
}

// Counts returns committed, completed and failed totals.
func (m *Metrics) Counts() (uint64, uint64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed, m.completed, m.failed
}

// InFlight is the number of committed command buffers not yet finished.
func (m *Metrics) InFlight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed - m.completed - m.failed
}
