// Package update implements the Self-Update controller (spec.md §4.6): the
// UpdateState state machine, its persisted history ring and schedule file,
// and the poller loop that evaluates the active schedule against the
// Inference Gate. Grounded on the health package's ticking-loop/cancel
// shape, generalized from a per-endpoint probe loop to a single
// process-wide poller.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/pkg/apperr"
	"github.com/llmlb/llmlb/pkg/safego"
)

const (
	historyFile    = "update-history.json"
	scheduleFile   = "update-schedule.json"
	historyRing    = 100
	checkGroupKey  = "check_now"
	pollInterval   = 5 * time.Second
)

// Checker looks for a new release and, if found, downloads it, reporting
// progress as it goes. A real implementation talks to whatever release
// channel the deployment uses; CheckAndDownload is the only seam the
// manager depends on.
type Checker interface {
	// Check reports the latest available version, or ok=false if the
	// running version is already current.
	Check(ctx context.Context, currentVersion string) (version string, ok bool, err error)
	// Download fetches version, invoking progress as bytes arrive, and
	// returns once the artifact is verified and staged on disk.
	Download(ctx context.Context, version string, progress func(downloaded, total int64)) error
}

// Installer performs the actual binary swap and process restart once a
// downloaded artifact is ready to apply. The default NoopInstaller never
// touches the binary: its Swap and Restart report success without doing
// anything, so an apply through it is recorded as "applied" and the state
// stays at Applying/restarting.
type Installer interface {
	// Swap replaces the running binary with the staged version and
	// returns once the new binary is in place on disk (but before
	// restart). An error here is a Failed transition.
	Swap(ctx context.Context, version string) error
	// Restart exits the current process so the service manager or
	// wrapper relaunches the swapped binary. It does not return on
	// success.
	Restart(ctx context.Context) error
	// Rollback restores the previous binary from backup.
	Rollback(ctx context.Context) error
}

// NoopInstaller satisfies Installer without ever touching the binary on
// disk, for deployments (or tests) with no real updater wired in.
type NoopInstaller struct{}

// Swap implements Installer.
func (NoopInstaller) Swap(context.Context, string) error { return nil }

// Restart implements Installer.
func (NoopInstaller) Restart(context.Context) error { return nil }

// Rollback implements Installer.
func (NoopInstaller) Rollback(context.Context) error { return nil }

// Manager owns the process-wide UpdateState singleton (spec.md §3),
// drives its transitions from poller ticks and admin actions, and
// persists update-history.json / update-schedule.json under the data
// directory.
type Manager struct {
	gate      *gate.Gate
	checker   Checker
	installer Installer
	logger    *zap.Logger
	dataDir   string

	currentVersion string
	drainDeadline  time.Duration
	checkCooldown  time.Duration

	mu         sync.RWMutex
	state      entity.UpdateState
	schedule   *entity.UpdateSchedule
	history    []entity.UpdateHistoryEntry
	lastCheck  time.Time
	backupKept bool

	group singleflight.Group
}

// Config bundles the Manager's fixed parameters.
type Config struct {
	CurrentVersion string
	DrainDeadline  time.Duration
	CheckCooldown  time.Duration
	DataDir        string
}

// New constructs a Manager in the UpToDate state and loads any persisted
// history/schedule from DataDir.
func New(cfg Config, g *gate.Gate, checker Checker, installer Installer, logger *zap.Logger) *Manager {
	if installer == nil {
		installer = NoopInstaller{}
	}
	m := &Manager{
		gate:           g,
		checker:        checker,
		installer:      installer,
		logger:         logger,
		dataDir:        cfg.DataDir,
		currentVersion: cfg.CurrentVersion,
		drainDeadline:  cfg.DrainDeadline,
		checkCooldown:  cfg.CheckCooldown,
		state:          entity.UpdateState{Kind: entity.UpdateStateUpToDate},
	}
	m.history = m.loadHistory()
	m.schedule = m.loadSchedule()
	return m
}

// State returns a snapshot of the current UpdateState.
func (m *Manager) State() entity.UpdateState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StartPoller launches the background loop that evaluates the active
// schedule against in_flight/timeout conditions on every tick (spec.md
// §4.6: "transitions driven by poller tick and admin actions").
func (m *Manager) StartPoller(ctx context.Context) {
	safego.Go(m.logger, "update-poller", func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	})
}

// WatchSchedule reloads update-schedule.json when it is edited out of
// band (an operator dropping a schedule file next to the data dir is a
// supported workflow), by watching the data directory with fsnotify.
func (m *Manager) WatchSchedule(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.dataDir); err != nil {
		watcher.Close()
		return err
	}

	safego.Go(m.logger, "update-schedule-watcher", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(evt.Name) != scheduleFile {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s := m.loadSchedule()
				m.mu.Lock()
				m.schedule = s
				m.mu.Unlock()
				m.logger.Info("reloaded update schedule", zap.Bool("active", s != nil))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("update schedule watcher error", zap.Error(err))
			}
		}
	})
	return nil
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	kind := m.state.Kind
	sched := m.schedule
	m.mu.Unlock()

	switch kind {
	case entity.UpdateStateDraining:
		m.evaluateDraining(ctx)
	case entity.UpdateStateReady:
		if sched != nil && m.scheduleDue(sched) {
			_ = m.applyLocked(ctx, sched.Mode == entity.UpdateScheduleScheduled)
		}
	}
}

func (m *Manager) scheduleDue(s *entity.UpdateSchedule) bool {
	switch s.Mode {
	case entity.UpdateScheduleImmediate:
		return true
	case entity.UpdateScheduleIdle:
		return m.gate.InFlight() == 0
	case entity.UpdateScheduleScheduled:
		return s.ScheduledAt != nil && !time.Now().UTC().Before(*s.ScheduledAt)
	default:
		return false
	}
}

// CheckNow looks for a new version, rate-limited to at most one
// invocation per checkCooldown (spec.md §4.6/§8). Within the cooldown it
// returns a RateLimited error without performing a check.
func (m *Manager) CheckNow(ctx context.Context) (entity.UpdateState, error) {
	m.mu.Lock()
	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.checkCooldown {
		m.mu.Unlock()
		// Wire shape for this specific code is the literal object
		// {"error":{"code":429}} (spec.md §7), rendered by the update
		// handler rather than the generic error-body middleware.
		return entity.UpdateState{}, apperr.RateLimited("update check is rate-limited", 0)
	}
	m.lastCheck = time.Now()
	m.mu.Unlock()

	result, err, _ := m.group.Do(checkGroupKey, func() (interface{}, error) {
		return m.runCheck(ctx)
	})
	if err != nil {
		return entity.UpdateState{}, err
	}
	return result.(entity.UpdateState), nil
}

func (m *Manager) runCheck(ctx context.Context) (entity.UpdateState, error) {
	if m.checker == nil {
		m.setState(entity.UpdateState{Kind: entity.UpdateStateUpToDate})
		return m.State(), nil
	}

	version, available, err := m.checker.Check(ctx, m.currentVersion)
	if err != nil {
		return entity.UpdateState{}, apperr.InternalWithCause("check for update", err)
	}
	if !available {
		m.setState(entity.UpdateState{Kind: entity.UpdateStateUpToDate})
		return m.State(), nil
	}

	m.setState(entity.UpdateState{Kind: entity.UpdateStateAvailable, Version: version})
	go m.download(context.WithoutCancel(ctx), version)
	return m.State(), nil
}

func (m *Manager) download(ctx context.Context, version string) {
	m.setState(entity.UpdateState{Kind: entity.UpdateStateDownloading, Version: version})

	err := m.checker.Download(ctx, version, func(downloaded, total int64) {
		m.setState(entity.UpdateState{
			Kind:            entity.UpdateStateDownloading,
			Version:         version,
			DownloadedBytes: &downloaded,
			TotalBytes:      &total,
		})
	})
	if err != nil {
		m.logger.Error("update download failed", zap.String("version", version), zap.Error(err))
		m.recordHistory("failed", version, err.Error())
		m.setState(entity.UpdateState{Kind: entity.UpdateStateUpToDate})
		return
	}
	m.setState(entity.UpdateState{Kind: entity.UpdateStateReady, Version: version})
}

// ApplyNormal starts a graceful drain: the gate stops admitting new
// inference requests and the manager waits for in_flight to reach zero
// before swapping (spec.md §4.6 apply(normal)).
func (m *Manager) ApplyNormal(ctx context.Context) error {
	return m.applyLocked(ctx, false)
}

// ApplyForce drains immediately, proceeding to swap without waiting for
// in-flight requests to finish naturally (spec.md §4.6 apply(force)).
func (m *Manager) ApplyForce(ctx context.Context) error {
	return m.applyLocked(ctx, true)
}

func (m *Manager) applyLocked(ctx context.Context, force bool) error {
	m.mu.Lock()
	if m.state.Kind != entity.UpdateStateReady {
		m.mu.Unlock()
		return apperr.Conflict("no update is ready to apply")
	}
	version := m.state.Version
	m.mu.Unlock()

	m.gate.StartRejecting()

	if force {
		dropped := m.gate.InFlight()
		m.setState(entity.UpdateState{
			Kind:         entity.UpdateStateApplying,
			Version:      version,
			Phase:        entity.UpdatePhaseWaitingPermission,
			PhaseMessage: "forced apply, dropped requests reported",
			InFlight:     dropped,
		})
		go m.swap(context.WithoutCancel(ctx), version)
		return nil
	}

	deadline := time.Now().UTC().Add(m.drainDeadline)
	m.setState(entity.UpdateState{
		Kind:      entity.UpdateStateDraining,
		Version:   version,
		TimeoutAt: &deadline,
		InFlight:  m.gate.InFlight(),
	})
	return nil
}

func (m *Manager) evaluateDraining(ctx context.Context) {
	m.mu.RLock()
	version := m.state.Version
	timeoutAt := m.state.TimeoutAt
	m.mu.RUnlock()

	inFlight := m.gate.InFlight()
	if inFlight == 0 {
		m.setState(entity.UpdateState{Kind: entity.UpdateStateApplying, Version: version, Phase: entity.UpdatePhaseSwapping})
		go m.swap(context.WithoutCancel(ctx), version)
		return
	}
	if timeoutAt != nil && time.Now().UTC().After(*timeoutAt) {
		dropped := inFlight
		m.setState(entity.UpdateState{
			Kind: entity.UpdateStateApplying, Version: version, Phase: entity.UpdatePhaseWaitingPermission,
			PhaseMessage: "drain timeout, forcing apply", InFlight: dropped,
		})
		go m.swap(context.WithoutCancel(ctx), version)
	}
}

func (m *Manager) swap(ctx context.Context, version string) {
	m.setState(entity.UpdateState{Kind: entity.UpdateStateApplying, Version: version, Phase: entity.UpdatePhaseSwapping})

	if err := m.installer.Swap(ctx, version); err != nil {
		m.logger.Error("update swap failed", zap.String("version", version), zap.Error(err))
		m.recordHistory("failed", version, err.Error())
		m.mu.Lock()
		m.backupKept = true
		m.mu.Unlock()
		m.setState(entity.UpdateState{Kind: entity.UpdateStateFailed, Error: err.Error(), RollbackAvailable: true})
		m.gate.StopRejecting()
		return
	}

	m.recordHistory("applied", version, "")
	m.setState(entity.UpdateState{Kind: entity.UpdateStateApplying, Version: version, Phase: entity.UpdatePhaseRestarting})

	if err := m.installer.Restart(ctx); err != nil {
		m.logger.Error("update restart failed", zap.String("version", version), zap.Error(err))
	}
}

// Rollback restores the previous binary after a Failed apply (spec.md
// §4.6 Failed --rollback--> RolledBack).
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Kind != entity.UpdateStateFailed || !m.backupKept {
		m.mu.Unlock()
		return apperr.Conflict("no failed update with a kept backup to roll back")
	}
	fromVersion := m.state.Version
	m.mu.Unlock()

	if err := m.installer.Rollback(ctx); err != nil {
		return apperr.InternalWithCause("rollback update", err)
	}

	m.recordHistory("rollback", m.currentVersion, "rolled back from "+fromVersion)
	m.setState(entity.UpdateState{Kind: entity.UpdateStateRolledBack, FromVersion: fromVersion, ToVersion: m.currentVersion})
	m.gate.StopRejecting()
	return nil
}

func (m *Manager) setState(s entity.UpdateState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) recordHistory(kind, version, message string) {
	entry := entity.UpdateHistoryEntry{Timestamp: time.Now().UTC(), Kind: kind, Version: version, Message: message}

	m.mu.Lock()
	m.history = append(m.history, entry)
	if len(m.history) > historyRing {
		m.history = m.history[len(m.history)-historyRing:]
	}
	snapshot := append([]entity.UpdateHistoryEntry(nil), m.history...)
	m.mu.Unlock()

	if err := m.saveHistory(snapshot); err != nil {
		m.logger.Warn("failed to persist update history", zap.Error(err))
	}
}

// History returns the persisted update-history.json ring, most recent
// last.
func (m *Manager) History() []entity.UpdateHistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]entity.UpdateHistoryEntry(nil), m.history...)
}

// SetSchedule installs a new active schedule, replacing any previous one
// (spec.md §3: "at most one active schedule").
func (m *Manager) SetSchedule(s *entity.UpdateSchedule) error {
	m.mu.Lock()
	m.schedule = s
	m.mu.Unlock()
	return m.saveSchedule(s)
}

// Schedule returns the currently active schedule, or nil.
func (m *Manager) Schedule() *entity.UpdateSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedule
}

func (m *Manager) loadHistory() []entity.UpdateHistoryEntry {
	data, err := os.ReadFile(filepath.Join(m.dataDir, historyFile))
	if err != nil {
		return nil
	}
	var entries []entity.UpdateHistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}
	return entries
}

func (m *Manager) saveHistory(entries []entity.UpdateHistoryEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dataDir, historyFile), data, 0o644)
}

func (m *Manager) loadSchedule() *entity.UpdateSchedule {
	data, err := os.ReadFile(filepath.Join(m.dataDir, scheduleFile))
	if err != nil {
		return nil
	}
	var s entity.UpdateSchedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func (m *Manager) saveSchedule(s *entity.UpdateSchedule) error {
	path := filepath.Join(m.dataDir, scheduleFile)
	if s == nil {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
