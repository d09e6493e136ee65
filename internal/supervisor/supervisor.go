// Package supervisor provides a reference scheduled-run driver: an
// advisory file lock serializing pipeline runs, and a robfig/cron/v3
// schedule invoking internal/pipeline.Run on each tick while the lock
// is held (spec §6.3). The supervisor has no knowledge of F/W/B/A/X;
// it only calls Pipeline.Run.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc adapts pipeline.Pipeline.Run to what the supervisor needs
// without importing internal/pipeline directly, keeping this package
// usable against any runnable closure.
type RunFunc func(ctx context.Context) error

// Supervisor schedules RunFunc on a cron expression, holding an
// advisory lock file for the duration of each run so overlapping
// ticks never execute concurrently (spec §6.3: "serialize runs").
type Supervisor struct {
	lockPath string
	schedule string
	run      RunFunc
	log      zerolog.Logger

	cron *cron.Cron
}

// New builds a Supervisor. lockDir is the store's data directory;
// the lock file lives at lockDir/crowdwisdom.lock.
func New(lockDir, schedule string, run RunFunc, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		lockPath: filepath.Join(lockDir, "crowdwisdom.lock"),
		schedule: schedule,
		run:      run,
		log:      log,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the scheduled job and begins the cron scheduler.
// It does not block; call Stop to shut down cleanly.
func (s *Supervisor) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Supervisor) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Supervisor) tick(ctx context.Context) {
	unlock, err := s.acquireLock()
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping scheduled run: lock held")
		return
	}
	defer unlock()

	if err := s.run(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled pipeline run failed")
	}
}

// acquireLock takes an exclusive, non-blocking advisory lock by
// creating lockPath with O_EXCL: a run in progress leaves the file
// behind, so a concurrent tick fails to create it and backs off
// rather than racing the same store.
func (s *Supervisor) acquireLock() (func(), error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", s.lockPath, err)
	}
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() {
		if err := os.Remove(s.lockPath); err != nil {
			s.log.Warn().Err(err).Str("lock", s.lockPath).Msg("failed to release lock file")
		}
	}, nil
}

// ForceUnlock removes a stale lock file left by a crashed run. Callers
// should only use this after confirming the recorded pid is not alive.
func ForceUnlock(lockPath string) error {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock %s: %w", lockPath, err)
	}
	if _, err := strconv.Atoi(string(raw)); err != nil {
		return fmt.Errorf("lock file %s has unexpected contents: %w", lockPath, err)
	}
	return os.Remove(lockPath)
}
