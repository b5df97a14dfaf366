// Command llmlb starts the load balancer server (spec.md §6) and exposes
// the CLI wrappers that manage it: serve, stop, status, and a hidden
// __internal group invoked by the self-updater. Grounded on
// llama.porp's cobra-based cmd/porpulsion/main.go, generalized from one
// "serve" verb to the full lifecycle surface this spec names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/app"
	"github.com/llmlb/llmlb/internal/infrastructure/config"
	"github.com/llmlb/llmlb/internal/infrastructure/lock"
	"github.com/llmlb/llmlb/internal/infrastructure/logger"
)

func main() {
	var (
		flagPort      int
		flagServePort int
		flagHost      string
		flagNoTray  bool
		flagTimeout int
	)

	root := &cobra.Command{
		Use:   "llmlb",
		Short: "llmlb — a load balancer and reverse proxy for LLM inference backends",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the load balancer server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flagHost, flagServePort, flagNoTray)
		},
	}
	serve.Flags().IntVarP(&flagServePort, "port", "p", 0, "HTTP port (overrides config)")
	serve.Flags().StringVar(&flagHost, "host", "", "Bind address (overrides config)")
	serve.Flags().BoolVar(&flagNoTray, "no-tray", false, "Disable the tray/GUI launcher")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running instance to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(flagPort, flagTimeout)
		},
	}
	stop.Flags().IntVarP(&flagPort, "port", "p", 8080, "Port of the instance to stop")
	stop.Flags().IntVar(&flagTimeout, "timeout", 30, "Seconds to wait for shutdown")

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether an instance is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(flagPort)
		},
	}
	status.Flags().IntVarP(&flagPort, "port", "p", 8080, "Port to check")

	internal := &cobra.Command{
		Use:    "__internal",
		Hidden: true,
		Short:  "Subcommands invoked by the self-updater; not for direct use",
	}
	internal.AddCommand(
		&cobra.Command{Use: "apply-update", RunE: func(cmd *cobra.Command, args []string) error {
			return runApplyUpdate(args)
		}},
		&cobra.Command{Use: "run-installer", RunE: func(cmd *cobra.Command, args []string) error {
			return runRunInstaller(args)
		}},
		&cobra.Command{Use: "rollback", RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(args)
		}},
	)

	root.AddCommand(serve, stop, status, internal)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(host string, port int, noTray bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}

	log, err := logger.NewLogger(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting llmlb", zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.Bool("no_tray", noTray))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("llmlb stopped")
	return nil
}

func runStop(port, timeoutSecs int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	info, err := lock.Read(cfg.DataDir, port)
	if err != nil {
		fmt.Printf("no instance running on port %d\n", port)
		return nil
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", info.PID, err)
	}

	deadline := time.Now().Add(time.Duration(timeoutSecs) * time.Second)
	for time.Now().Before(deadline) {
		if _, err := lock.Read(cfg.DataDir, port); err != nil {
			fmt.Printf("stopped pid %d\n", info.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("instance on port %d did not stop within %ds", port, timeoutSecs)
}

func runStatus(port int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	info, err := lock.Read(cfg.DataDir, port)
	if err != nil {
		fmt.Printf("not running\n")
		return nil
	}
	fmt.Printf("running: pid=%d port=%d started_at=%s\n", info.PID, info.Port, info.StartedAt.Format(time.RFC3339))
	return nil
}

// runApplyUpdate, runRunInstaller, and runRollback are invoked by the
// updater out-of-process after a drain completes. The installer plugin
// that actually performs the swap/restart/rollback is out of scope
// (spec.md §1: "the update downloader's TLS/archive handling"); these
// stubs exist so the CLI surface spec.md §6 names is complete.
func runApplyUpdate(args []string) error {
	fmt.Println("apply-update: no installer configured")
	return nil
}

func runRunInstaller(args []string) error {
	fmt.Println("run-installer: no installer configured")
	return nil
}

func runRollback(args []string) error {
	fmt.Println("rollback: no installer configured")
	return nil
}
