package observability

import (
	"sync/atomic"
	"time"
)

// SweepMetrics is an in-process tally of sweeper passes, logged after each run.
type SweepMetrics struct {
	runs               atomic.Uint64
	failed             atomic.Uint64
	revocationsRemoved atomic.Uint64
	sessionsRemoved    atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewSweepMetrics() *SweepMetrics {
	return &SweepMetrics{}
}

func (m *SweepMetrics) IncRuns() {
	m.runs.Add(1)
}

func (m *SweepMetrics) IncFailed() {
	m.failed.Add(1)
}

func (m *SweepMetrics) AddRevocationsRemoved(n int) {
	if n > 0 {
		m.revocationsRemoved.Add(uint64(n))
	}
}

func (m *SweepMetrics) AddSessionsRemoved(n int64) {
	if n > 0 {
		m.sessionsRemoved.Add(uint64(n))
	}
}

func (m *SweepMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SweepMetricsSnapshot struct {
	Runs               uint64
	Failed             uint64
	RevocationsRemoved uint64
	SessionsRemoved    uint64
	AverageDuration    time.Duration
	MaxDuration        time.Duration
}

func (m *SweepMetrics) Snapshot() SweepMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration
	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return SweepMetricsSnapshot{
		Runs:               m.runs.Load(),
		Failed:             m.failed.Load(),
		RevocationsRemoved: m.revocationsRemoved.Load(),
		SessionsRemoved:    m.sessionsRemoved.Load(),
		AverageDuration:    avg,
		MaxDuration:        time.Duration(m.durationMax.Load()),
	}
}
