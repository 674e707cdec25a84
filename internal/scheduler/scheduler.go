package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"mentorme-service/internal/lock"
	"mentorme-service/pkg/sl"
)

const tickLockKey = "scheduler:tick"

// Jobs are the time-based booking transitions, run in this fixed order.
type Jobs interface {
	ExpireStalePayments(ctx context.Context) (int, error)
	AutoDeclineOverdue(ctx context.Context) (int, error)
	StartDueSessions(ctx context.Context) (int, error)
	SendReminders(ctx context.Context) (int, error)
	FinishSessions(ctx context.Context) (int, error)
}

type Scheduler struct {
	jobs     Jobs
	locker   lock.Locker
	interval time.Duration
	lockTTL  time.Duration
	log      *slog.Logger
	running  atomic.Bool
}

func New(jobs Jobs, locker lock.Locker, interval, lockTTL time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		log:      log,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", slog.String("interval", s.interval.String()))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one batch of job phases. At most one tick executes at a time
// system-wide: a local flag skips overlap in this process and the shared
// lock skips overlap across processes. A tick due while another still runs
// is dropped, not queued.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("tick skipped, previous tick still running")
		return
	}
	defer s.running.Store(false)

	locked, err := s.locker.Lock(ctx, tickLockKey, s.lockTTL)
	if err != nil {
		s.log.Error("tick lock error", sl.Err(err))
		return
	}
	if !locked {
		s.log.Warn("tick skipped, held by another instance")
		return
	}
	defer func() {
		_ = s.locker.Unlock(ctx, tickLockKey)
	}()

	// Each phase is isolated: a failure is logged and the rest still run.
	// Everything a phase does is idempotent, so the next tick retries safely.
	for _, phase := range []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"expire_stale_payments", s.jobs.ExpireStalePayments},
		{"auto_decline_overdue", s.jobs.AutoDeclineOverdue},
		{"start_due_sessions", s.jobs.StartDueSessions},
		{"send_reminders", s.jobs.SendReminders},
		{"finish_sessions", s.jobs.FinishSessions},
	} {
		n, err := phase.run(ctx)
		if err != nil {
			s.log.Error("job phase failed", slog.String("phase", phase.name), sl.Err(err))
			continue
		}
		if n > 0 {
			s.log.Info("job phase done", slog.String("phase", phase.name), slog.Int("processed", n))
		}
	}
}
