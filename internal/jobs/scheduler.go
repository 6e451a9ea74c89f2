// Package jobs runs the engine's maintenance sweeps on a cron schedule.
// Each run holds a Redis lease so only one replica executes a given job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
	redisx "github.com/Alijeyrad/carebook_backend/pkg/redis"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrLocked     = errors.New("job is running on another instance")
)

const lockPrefix = "carebook:jobs:"

// Job is one named sweep. An empty Spec leaves it to manual runs.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) (any, error)
}

type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
}

// Locker returns a nil Lease when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type redisLocker struct {
	l *redisx.Locker
}

func NewRedisLocker(l *redisx.Locker) Locker {
	return redisLocker{l: l}
}

func (r redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lk, err := r.l.TryLock(ctx, key, ttl)
	if err != nil || lk == nil {
		return nil, err
	}
	return lk, nil
}

type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	metrics *observability.EngineMetrics
	jobs    map[string]Job
	order   []string

	lockTTL    time.Duration
	runTimeout time.Duration
	skipLock   bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(cfg config.JobsConfig, locker Locker, metrics *observability.EngineMetrics, jobs ...Job) *Scheduler {
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		locker:     locker,
		metrics:    metrics,
		jobs:       make(map[string]Job, len(jobs)),
		lockTTL:    seconds(cfg.LockTTLSeconds, 5*time.Minute),
		runTimeout: seconds(cfg.RunTimeoutSeconds, 10*time.Minute),
		skipLock:   cfg.DisableLeaderCheck || locker == nil,
	}
	for _, j := range jobs {
		s.jobs[j.Name] = j
		s.order = append(s.order, j.Name)
	}
	return s
}

// Start registers every job with a spec and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.ctx
	s.mu.Unlock()

	for _, name := range s.order {
		job := s.jobs[name]
		if job.Spec == "" {
			slog.Info("jobs: no schedule, manual only", "job", name)
			continue
		}
		if _, err := s.cron.AddFunc(job.Spec, func() { s.run(runCtx, job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, job.Spec, err)
		}
		slog.Info("jobs: scheduled", "job", name, "spec", job.Spec)
	}
	s.cron.Start()
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("jobs: stop timed out with runs in flight")
	}
}

// Names lists registered jobs in registration order.
func (s *Scheduler) Names() []string {
	return append([]string(nil), s.order...)
}

// RunNow executes one job synchronously under the same lease as the cron path.
func (s *Scheduler) RunNow(ctx context.Context, name string) (any, error) {
	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

// RunAll executes every job once, in order, and joins the failures.
func (s *Scheduler) RunAll(ctx context.Context) error {
	var errs []error
	for _, name := range s.order {
		if _, err := s.RunNow(ctx, name); err != nil && !errors.Is(err, ErrLocked) {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if _, err := s.execute(ctx, job); err != nil && !errors.Is(err, ErrLocked) {
		slog.Error("jobs: run failed", "job", job.Name, "err", err)
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) (any, error) {
	if !s.skipLock {
		lease, err := s.locker.TryLock(ctx, lockPrefix+job.Name, s.lockTTL)
		if err != nil {
			s.metrics.JobRun(ctx, job.Name, "lock_error")
			return nil, fmt.Errorf("acquire lease: %w", err)
		}
		if lease == nil {
			s.metrics.JobRun(ctx, job.Name, "skipped")
			slog.Info("jobs: lease held elsewhere, skipping", "job", job.Name)
			return nil, ErrLocked
		}
		defer func() {
			if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("jobs: lease release failed", "job", job.Name, "err", err)
			}
		}()

		stop := s.keepAlive(ctx, job.Name, lease)
		defer stop()
	}

	runCtx, cancel := context.WithTimeout(reqctx.WithOrigin(ctx, reqctx.OriginJob, ""), s.runTimeout)
	defer cancel()

	started := time.Now()
	res, err := job.Run(runCtx)
	if err != nil {
		s.metrics.JobRun(ctx, job.Name, "error")
		return res, err
	}

	s.metrics.JobRun(ctx, job.Name, "ok")
	slog.InfoContext(runCtx, "jobs: run finished", "job", job.Name, "took", time.Since(started), "result", res)
	return res, nil
}

// keepAlive refreshes the lease at half its TTL until stopped.
func (s *Scheduler) keepAlive(ctx context.Context, name string, lease Lease) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		tick := time.NewTicker(s.lockTTL / 2)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := lease.Refresh(ctx, s.lockTTL); err != nil {
					slog.Warn("jobs: lease refresh failed", "job", name, "err", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// cronLogger routes robfig/cron's recover and skip messages into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("jobs: cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("jobs: cron "+msg, append(keysAndValues, "err", err)...)
}
