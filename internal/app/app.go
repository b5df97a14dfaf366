// Package app wires every component the balancer needs into a single
// runnable process: persistence, the endpoint registry, health checking,
// detection, model sync, routing, proxying, history, auditing, the
// self-update manager, metrics, and the HTTP/WebSocket surface. Grounded
// on the teacher's internal/application DI-container pattern, generalized
// from one agent loop to this module's dozen-odd collaborators.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/audit"
	"github.com/llmlb/llmlb/internal/infrastructure/auth"
	"github.com/llmlb/llmlb/internal/infrastructure/config"
	"github.com/llmlb/llmlb/internal/infrastructure/detect"
	"github.com/llmlb/llmlb/internal/infrastructure/download"
	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/internal/infrastructure/health"
	"github.com/llmlb/llmlb/internal/infrastructure/history"
	"github.com/llmlb/llmlb/internal/infrastructure/lock"
	"github.com/llmlb/llmlb/internal/infrastructure/modelsync"
	"github.com/llmlb/llmlb/internal/infrastructure/monitoring"
	"github.com/llmlb/llmlb/internal/infrastructure/persistence"
	"github.com/llmlb/llmlb/internal/infrastructure/proxy"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/internal/infrastructure/routing"
	"github.com/llmlb/llmlb/internal/infrastructure/update"
	llmhttp "github.com/llmlb/llmlb/internal/interfaces/http"
	"github.com/llmlb/llmlb/internal/interfaces/http/handlers"
	ws "github.com/llmlb/llmlb/internal/interfaces/websocket"
)

// App holds every wired collaborator for the lifetime of one process.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Lock *lock.Lock

	Gate     *gate.Gate
	Bus      *eventbus.Bus
	Registry *registry.Registry
	Checker  *health.Checker
	Detector *detect.Detector
	Download *download.Coordinator
	Recorder *history.Recorder
	Audit    *audit.Writer
	Updates  *update.Manager
	Metrics  *monitoring.Metrics

	Server *llmhttp.Server
}

// New builds and wires every collaborator but does not yet bind the
// listener or start background loops; call Start for that.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	l, err := lock.Acquire(cfg.DataDir, cfg.Port)
	if err != nil {
		return nil, err
	}

	db, err := persistence.NewDBConnection(cfg.DBPath())
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	endpointRepo := persistence.NewGormEndpointRepository(db)
	historyRepo := persistence.NewGormHistoryRepository(db)
	auditRepo := persistence.NewGormAuditRepository(db)
	userRepo := persistence.NewGormUserRepository(db)
	apiKeyRepo := persistence.NewGormAPIKeyRepository(db)
	invitationRepo := persistence.NewGormInvitationRepository(db)
	downloadRepo := persistence.NewInMemoryDownloadTaskRepository()
	settingsRepo := persistence.NewGormSettingsRepository(db)

	bus := eventbus.New(logger)
	g := gate.New()

	reg := registry.New(endpointRepo, bus, logger)
	if err := reg.Load(ctx); err != nil {
		l.Release()
		return nil, fmt.Errorf("load endpoint registry: %w", err)
	}

	detector := detect.New()
	syncer := modelsync.New()
	reg.SetModelSyncer(syncer)

	checker := health.New(reg, logger)
	reg.SetProber(checker)

	dl := download.New(downloadRepo, logger)
	recorder := history.New(historyRepo, logger)
	selector := routing.New(reg)
	prox := proxy.New(reg, logger)

	auditWriter, err := audit.NewWriter(ctx, auditRepo, audit.NoopArchiveSink{}, logger)
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("init audit writer: %w", err)
	}

	authSvc := auth.New(cfg.JWTSecret, userRepo, apiKeyRepo)
	if err := ensureAdmin(ctx, cfg, userRepo); err != nil {
		l.Release()
		return nil, fmt.Errorf("seed admin user: %w", err)
	}

	updates := update.New(update.Config{
		CurrentVersion: version(),
		DrainDeadline:  cfg.DrainDeadline,
		CheckCooldown:  cfg.UpdateCheckCooldown,
		DataDir:        cfg.DataDir,
	}, g, noopChecker{}, update.NoopInstaller{}, logger)

	metrics := monitoring.New(reg, g)

	wsHandler := ws.New(bus, logger)

	h := llmhttp.Handlers{
		Inference: handlers.NewInference(g, selector, prox, recorder, logger),
		Models:    handlers.NewModels(reg),
		Endpoints: handlers.NewEndpoints(reg, detector, checker, dl),
		Auth:      handlers.NewAuth(authSvc, userRepo, apiKeyRepo, invitationRepo),
		Dashboard: handlers.NewDashboard(reg, historyRepo, settingsRepo),
		Settings:  handlers.NewSettings(settingsRepo),
		System:    handlers.NewSystem(version(), g, updates),
		WebSocket: wsHandler,
		Metrics:   metrics,
		AuthSvc:   authSvc,
		AuthOff:   cfg.AuthDisabled,
		Audit:     auditWriter,
	}

	srv := llmhttp.NewServer(llmhttp.Config{Host: cfg.Host, Port: cfg.Port, Mode: "debug"}, h, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Lock:     l,
		Gate:     g,
		Bus:      bus,
		Registry: reg,
		Checker:  checker,
		Detector: detector,
		Download: dl,
		Recorder: recorder,
		Audit:    auditWriter,
		Updates:  updates,
		Metrics:  metrics,
		Server:   srv,
	}, nil
}

// Start begins background loops (health probing, audit flushing, update
// polling) and binds the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	if err := a.Checker.StartupScan(ctx); err != nil {
		a.Logger.Warn("startup health scan returned an error", zap.Error(err))
	}
	a.Checker.StartAll(ctx)
	a.Recorder.Start(ctx)
	a.Audit.Start(ctx)
	a.Updates.StartPoller(ctx)
	if err := a.Updates.WatchSchedule(ctx); err != nil {
		a.Logger.Warn("update schedule watcher unavailable", zap.Error(err))
	}
	return a.Server.Start(ctx)
}

// Stop releases the listener, drains, and releases the single-instance
// lock. Order matters: the HTTP server stops accepting new connections
// before the lock is released, so a racing second instance never binds
// the port out from under an in-flight shutdown.
func (a *App) Stop(ctx context.Context) error {
	err := a.Server.Stop(ctx)
	a.Lock.Release()
	return err
}

// ensureAdmin creates the configured admin account if no users exist yet,
// so a fresh data directory is never locked out of its own dashboard.
func ensureAdmin(ctx context.Context, cfg *config.Config, users repository.UserRepository) error {
	if cfg.AdminPass == "" {
		return nil
	}
	existing, err := users.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPass)
	if err != nil {
		return err
	}
	return users.Create(ctx, &entity.User{
		ID:           uuid.NewString(),
		Username:     cfg.AdminUser,
		PasswordHash: hash,
		Role:         entity.RoleAdmin,
	})
}

// noopChecker is the default update.Checker until a real update feed is
// configured; Check always reports no update available, so the poller is
// inert out of the box rather than erroring.
type noopChecker struct{}

func (noopChecker) Check(ctx context.Context, currentVersion string) (string, bool, error) {
	return currentVersion, false, nil
}

func (noopChecker) Download(ctx context.Context, version string, progress func(downloaded, total int64)) error {
	return nil
}

// version is the balancer's own release version, stamped at build time
// in a real release pipeline; a fixed development value is used here.
func version() string { return "dev" }
