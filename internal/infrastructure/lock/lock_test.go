package lock

import (
	"os"
	"testing"

	"github.com/llmlb/llmlb/pkg/apperr"
)

func TestAcquireWritesOwnPIDAndReleases(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, 9090)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	info, err := Read(dir, 9090)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if info.PID != os.Getpid() || info.Port != 9090 {
		t.Fatalf("unexpected lock info: %+v", info)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := Read(dir, 9090); err == nil {
		t.Fatal("expected the lockfile to be gone after release")
	}
}

func TestAcquireConflictsWithLiveHolder(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, 9191)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer l.Release()

	// Our own pid is alive, so a second acquire for the same port must
	// refuse.
	if _, err := Acquire(dir, 9191); !apperr.IsConflict(err) {
		t.Fatalf("expected Conflict for a live holder, got %v", err)
	}
}

func TestAcquireReclaimsStaleLockfile(t *testing.T) {
	dir := t.TempDir()

	// Forge a lockfile naming a pid that cannot be running.
	stale := `{"pid":999999999,"port":9292,"started_at":"2026-01-01T00:00:00Z"}`
	if err := os.WriteFile(dir+"/llmlb-9292.lock", []byte(stale), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	l, err := Acquire(dir, 9292)
	if err != nil {
		t.Fatalf("expected the stale lock to be reclaimed: %v", err)
	}
	defer l.Release()

	info, err := Read(dir, 9292)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("expected the reclaimed lock to name this process, got pid %d", info.PID)
	}
}

func TestLocksAreScopedPerPort(t *testing.T) {
	dir := t.TempDir()

	a, err := Acquire(dir, 8001)
	if err != nil {
		t.Fatalf("acquire 8001: %v", err)
	}
	defer a.Release()

	b, err := Acquire(dir, 8002)
	if err != nil {
		t.Fatalf("two ports must not conflict: %v", err)
	}
	defer b.Release()
}
