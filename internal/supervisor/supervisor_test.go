package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisor_RunsOnSchedule(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	s := New(dir, "* * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, zerolog.Nop())

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(1500 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
	_, err := os.Stat(filepath.Join(dir, "crowdwisdom.lock"))
	assert.True(t, os.IsNotExist(err), "lock file should be released after each tick")
}

func TestSupervisor_SkipsOverlappingTickWhileLockHeld(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "@every 1h", func(ctx context.Context) error { return nil }, zerolog.Nop())

	unlock, err := s.acquireLock()
	require.NoError(t, err)

	_, err = s.acquireLock()
	assert.Error(t, err, "a second lock attempt while the first is held must fail")

	unlock()
	_, err = s.acquireLock()
	assert.NoError(t, err, "lock should be acquirable again after release")
}

func TestForceUnlock_RemovesStaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "crowdwisdom.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("99999999"), 0o644))

	require.NoError(t, ForceUnlock(lockPath))
	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
