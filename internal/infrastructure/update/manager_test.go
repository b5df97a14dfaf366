package update

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/pkg/apperr"
)

type stubChecker struct {
	version   string
	available bool
	checks    int
}

func (s *stubChecker) Check(ctx context.Context, currentVersion string) (string, bool, error) {
	s.checks++
	return s.version, s.available, nil
}

func (s *stubChecker) Download(ctx context.Context, version string, progress func(downloaded, total int64)) error {
	progress(100, 100)
	return nil
}

type stubInstaller struct {
	swapErr    error
	swapped    int
	rolledBack int
}

func (s *stubInstaller) Swap(context.Context, string) error {
	s.swapped++
	return s.swapErr
}
func (s *stubInstaller) Restart(context.Context) error { return nil }
func (s *stubInstaller) Rollback(context.Context) error {
	s.rolledBack++
	return nil
}

func newTestManager(t *testing.T, checker Checker, installer Installer, g *gate.Gate) *Manager {
	t.Helper()
	return New(Config{
		CurrentVersion: "1.0.0",
		DrainDeadline:  time.Minute,
		CheckCooldown:  time.Minute,
		DataDir:        t.TempDir(),
	}, g, checker, installer, zap.NewNop())
}

func waitForState(t *testing.T, m *Manager, want entity.UpdateStateKind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Kind == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, m.State().Kind)
}

func TestCheckNowIsRateLimited(t *testing.T) {
	checker := &stubChecker{version: "1.0.0", available: false}
	m := newTestManager(t, checker, nil, gate.New())

	if _, err := m.CheckNow(context.Background()); err != nil {
		t.Fatalf("first check: %v", err)
	}
	_, err := m.CheckNow(context.Background())
	if err == nil {
		t.Fatal("expected the second check within the cooldown to be rejected")
	}
	if !apperr.IsRateLimited(err) {
		t.Fatalf("expected RateLimited, got %v", err)
	}
	if checker.checks != 1 {
		t.Fatalf("a rate-limited check must have no side effects, checker ran %d times", checker.checks)
	}
}

func TestCheckNowDownloadsAvailableUpdateToReady(t *testing.T) {
	checker := &stubChecker{version: "1.1.0", available: true}
	m := newTestManager(t, checker, nil, gate.New())

	if _, err := m.CheckNow(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	waitForState(t, m, entity.UpdateStateReady)
	if got := m.State().Version; got != "1.1.0" {
		t.Fatalf("expected ready version 1.1.0, got %s", got)
	}
}

func TestApplyNormalDrainsThenSwaps(t *testing.T) {
	g := gate.New()
	installer := &stubInstaller{}
	m := newTestManager(t, &stubChecker{version: "1.1.0", available: true}, installer, g)

	if _, err := m.CheckNow(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	waitForState(t, m, entity.UpdateStateReady)

	guard, err := g.Admit()
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	if err := m.ApplyNormal(context.Background()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m.State().Kind != entity.UpdateStateDraining {
		t.Fatalf("expected draining while a request is in flight, got %s", m.State().Kind)
	}
	if !g.Rejecting() {
		t.Fatal("gate must reject new admissions while draining")
	}
	if _, err := g.Admit(); err == nil {
		t.Fatal("expected new admissions to be rejected")
	}

	guard.Release()
	m.evaluateDraining(context.Background())
	waitForState(t, m, entity.UpdateStateApplying)

	deadline := time.Now().Add(time.Second)
	for installer.swapped == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if installer.swapped != 1 {
		t.Fatal("expected the installer swap to run once the drain completed")
	}
}

func TestApplyWithoutReadyUpdateConflicts(t *testing.T) {
	m := newTestManager(t, &stubChecker{}, nil, gate.New())
	err := m.ApplyNormal(context.Background())
	if !apperr.IsConflict(err) {
		t.Fatalf("expected Conflict when nothing is ready, got %v", err)
	}
}

func TestFailedSwapAllowsRollback(t *testing.T) {
	g := gate.New()
	installer := &stubInstaller{swapErr: errors.New("disk full")}
	m := newTestManager(t, &stubChecker{version: "1.1.0", available: true}, installer, g)

	if _, err := m.CheckNow(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	waitForState(t, m, entity.UpdateStateReady)

	if err := m.ApplyForce(context.Background()); err != nil {
		t.Fatalf("apply force: %v", err)
	}
	waitForState(t, m, entity.UpdateStateFailed)

	state := m.State()
	if !state.RollbackAvailable {
		t.Fatal("expected rollback to be available after a failed swap with a kept backup")
	}
	if g.Rejecting() {
		t.Fatal("gate must reopen after a failed apply")
	}

	if err := m.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if installer.rolledBack != 1 {
		t.Fatal("expected the installer rollback to run")
	}
	if m.State().Kind != entity.UpdateStateRolledBack {
		t.Fatalf("expected RolledBack, got %s", m.State().Kind)
	}
}

func TestRollbackWithoutFailedStateConflicts(t *testing.T) {
	m := newTestManager(t, &stubChecker{}, &stubInstaller{}, gate.New())
	if err := m.Rollback(context.Background()); !apperr.IsConflict(err) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestHistoryRingIsCappedAtOneHundred(t *testing.T) {
	m := newTestManager(t, &stubChecker{}, nil, gate.New())
	for i := 0; i < historyRing+20; i++ {
		m.recordHistory("applied", "v", "")
	}
	if got := len(m.History()); got != historyRing {
		t.Fatalf("expected history capped at %d, got %d", historyRing, got)
	}
}

func TestSetScheduleReplacesActiveSchedule(t *testing.T) {
	m := newTestManager(t, &stubChecker{}, nil, gate.New())
	at := time.Now().UTC().Add(time.Hour)

	first := &entity.UpdateSchedule{Mode: entity.UpdateScheduleScheduled, ScheduledAt: &at, TargetVersion: "1.1.0"}
	if err := m.SetSchedule(first); err != nil {
		t.Fatalf("set schedule: %v", err)
	}
	second := &entity.UpdateSchedule{Mode: entity.UpdateScheduleIdle, TargetVersion: "1.2.0"}
	if err := m.SetSchedule(second); err != nil {
		t.Fatalf("replace schedule: %v", err)
	}

	got := m.Schedule()
	if got == nil || got.TargetVersion != "1.2.0" {
		t.Fatalf("expected the replacement schedule to win, got %+v", got)
	}
}
