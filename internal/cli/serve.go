package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hallpass/internal/alert"
	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/config"
	"github.com/ppiankov/hallpass/internal/friction"
	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/hookrpc"
	"github.com/ppiankov/hallpass/internal/server"
	"github.com/ppiankov/hallpass/internal/settings"
	"github.com/ppiankov/hallpass/internal/store"
)

const shutdownTimeout = 5 * time.Second

var (
	serveHTTPAddr string
	serveGRPCAddr string
	serveSettings string
	serveNoGRPC   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC navigation hook address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoGRPC, "no-grpc", false, "Disable the gRPC navigation hook")
	serveCmd.Flags().StringVar(&serveSettings, "settings", "", "Settings YAML to sync into the store (overrides config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hallpass daemon",
	Long: "Serves the navigation hook, the intervention page and the friction\n" +
		"session API over HTTP, plus the navigation hook over gRPC.\n" +
		"The settings file, when set, is re-applied on every change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	if warning := checkUnitIntegrity(); warning != "" {
		logger.Warn("unit file integrity", "warning", warning)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	grants := store.NewGrants(st)

	var auditLog *audit.Log
	if cfg.AuditLog != "" {
		auditLog, err = audit.Open(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer auditLog.Close()
	}
	alerts := alert.NewDispatcher(cfg.Alerts, logger)
	defer alerts.Wait()

	gk, err := gatekeeper.New(grants, gatekeeper.Config{
		InterventionURL: cfg.Intervention(),
		Logger:          logger,
		Audit:           auditLog,
		Alerts:          alerts,
	})
	if err != nil {
		return err
	}
	defer gk.Wait()

	fc := cfg.FrictionConfig()
	fc.Logger = logger
	fc.Audit = auditLog
	fc.Alerts = alerts
	engine := friction.NewEngine(grants, fc)

	srv, err := server.New(server.Config{
		Addr:                cfg.HTTPAddr,
		Gatekeeper:          gk,
		Engine:              engine,
		Grants:              grants,
		AllowedOrigins:      cfg.AllowedOrigins,
		NavigationRateLimit: cfg.NavigationRateLimit,
		Logger:              logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	if cfg.SettingsFile != "" {
		w, err := settings.NewWatcher(cfg.SettingsFile, st, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: settings sync disabled: %v\n", err)
		} else {
			go w.Run(ctx)
		}
	}

	var hook *hookrpc.Server
	if cfg.GRPCAddr != "" {
		hook, err = hookrpc.New(gk, logger)
		if err != nil {
			return fmt.Errorf("failed to create gRPC hook: %w", err)
		}
		go func() {
			if err := hook.Serve(cfg.GRPCAddr); err != nil {
				logger.Error("grpc navigation hook stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nShutting down hallpass...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
		if hook != nil {
			hook.GracefulStop()
		}
	}()

	fmt.Fprintf(os.Stderr, "hallpass listening on http://%s\n", cfg.HTTPAddr)
	fmt.Fprintf(os.Stderr, "Intervention page: %s\n", cfg.Intervention())
	if cfg.GRPCAddr != "" {
		fmt.Fprintf(os.Stderr, "gRPC hook: %s\n", cfg.GRPCAddr)
	}
	if cfg.SettingsFile != "" {
		fmt.Fprintf(os.Stderr, "Settings: %s (hot-reload enabled)\n", cfg.SettingsFile)
	}
	fmt.Fprintln(os.Stderr)

	if err := srv.ListenAndServe(); err != nil {
		if hook != nil {
			hook.GracefulStop()
		}
		return err
	}
	return nil
}

func applyServeFlags(cfg *config.Config) {
	if serveHTTPAddr != "" {
		cfg.HTTPAddr = serveHTTPAddr
	}
	if serveGRPCAddr != "" {
		cfg.GRPCAddr = serveGRPCAddr
	}
	if serveNoGRPC {
		cfg.GRPCAddr = ""
	}
	if serveSettings != "" {
		cfg.SettingsFile = serveSettings
	}
}
