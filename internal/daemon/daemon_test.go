package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/config"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	d, err := New(config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestAcquirePIDFile_WritesOwnPIDWhenNoLockExists(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := d.AcquirePIDFile(); err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	data, err := os.ReadFile(d.pidPath)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strconv.Itoa(os.Getpid()) != string(data) {
		t.Errorf("pid file = %q, want %d", data, os.Getpid())
	}
}

func TestAcquirePIDFile_RejectsWhenAnotherInstanceIsAlive(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := os.MkdirAll(filepath.Dir(d.pidPath), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// This test process's own PID is guaranteed alive and signalable.
	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	err := d.AcquirePIDFile()
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquirePIDFile() = %v, want ErrAlreadyRunning", err)
	}
}

func TestAcquirePIDFile_ReclaimsStaleLock(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := os.MkdirAll(filepath.Dir(d.pidPath), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// A PID astronomically unlikely to be alive.
	if err := os.WriteFile(d.pidPath, []byte("999999"), 0o600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if err := d.AcquirePIDFile(); err != nil {
		t.Fatalf("AcquirePIDFile() should reclaim a stale lock, got %v", err)
	}
}

func TestAcquirePIDFile_TreatsCorruptLockAsStale(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := os.MkdirAll(filepath.Dir(d.pidPath), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(d.pidPath, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if err := d.AcquirePIDFile(); err != nil {
		t.Fatalf("AcquirePIDFile() should treat corrupt lock as stale, got %v", err)
	}
}

func TestShutdown_RemovesPIDFile(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := d.AcquirePIDFile(); err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	d.Shutdown()
	if _, err := os.Stat(d.pidPath); !os.IsNotExist(err) {
		t.Errorf("pid file should be removed after Shutdown, stat err = %v", err)
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	if err := d.AcquirePIDFile(); err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	d.Shutdown()
	d.Shutdown() // must not panic on double-close of nil listeners
}

func TestReap_PurgesExpiredCacheAndTombstonesWithoutPanicking(t *testing.T) {
	t.Parallel()
	d := newTestDaemon(t)
	d.reap() // no webhooks registered, nothing cached — exercises the no-op path
}
