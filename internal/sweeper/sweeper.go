package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/shopfront/internal/observability"
)

const (
	KindRevocations = "revocations"
	KindSessions    = "sessions"
	KindRateLimits  = "rate_limits"
	KindUserCache   = "user_cache"
)

// Task removes expired state and reports how many entries it dropped.
type Task struct {
	Kind string
	Run  func(ctx context.Context) (int, error)
}

type Recorder interface {
	Swept(kind string, n int)
}

type noopRecorder struct{}

func (noopRecorder) Swept(string, int) {}

type Config struct {
	Interval time.Duration
}

type Sweeper struct {
	cfg     Config
	tasks   []Task
	log     *slog.Logger
	metrics *observability.SweepMetrics
	prom    Recorder

	failures int
}

func New(cfg Config, log *slog.Logger, tasks ...Task) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		cfg:     cfg,
		tasks:   tasks,
		log:     log,
		metrics: observability.NewSweepMetrics(),
		prom:    noopRecorder{},
	}
}

func (s *Sweeper) WithRecorder(r Recorder) *Sweeper {
	if r != nil {
		s.prom = r
	}
	return s
}

func (s *Sweeper) Metrics() *observability.SweepMetrics {
	return s.metrics
}

// Run sweeps on every interval until ctx is cancelled. A pass with failures
// pushes the next one out with backoff.
func (s *Sweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil

		case <-timer.C:
			if s.RunOnce(ctx) {
				s.failures = 0
			} else {
				s.failures++
			}
			timer.Reset(nextDelay(s.cfg.Interval, s.failures))
		}
	}
}

// RunOnce executes every task once and reports whether all of them succeeded.
func (s *Sweeper) RunOnce(ctx context.Context) bool {
	start := time.Now()
	ok := true

	s.metrics.IncRuns()

	for _, t := range s.tasks {
		taskCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := t.Run(taskCtx)
		cancel()

		if err != nil {
			ok = false
			s.log.ErrorContext(ctx, "sweep_failed", "kind", t.Kind, "err", err)
			continue
		}

		s.record(t.Kind, n)
	}

	if !ok {
		s.metrics.IncFailed()
	}
	s.metrics.ObserveDuration(time.Since(start))

	snap := s.metrics.Snapshot()
	s.log.Debug("sweep_done",
		"ok", ok,
		"runs", snap.Runs,
		"failed", snap.Failed,
		"revocations_removed", snap.RevocationsRemoved,
		"sessions_removed", snap.SessionsRemoved,
		"avg_ms", snap.AverageDuration.Milliseconds(),
	)

	return ok
}

func (s *Sweeper) record(kind string, n int) {
	switch kind {
	case KindRevocations:
		s.metrics.AddRevocationsRemoved(n)
	case KindSessions:
		s.metrics.AddSessionsRemoved(int64(n))
	}
	s.prom.Swept(kind, n)
}
