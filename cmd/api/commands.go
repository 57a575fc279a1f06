package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/api/middleware"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/config"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/database"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/logger"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/server"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/services"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/util"
	"github.com/Djoere-Bloemheuvel/buildrs-guard/internal/version"
)

var debugFlag bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "guard",
		Short: "Rate limiting and anomaly detection for the Buildrs CRM",
		Long: `guard records rate-limit attempts, mirrors CRM activity, detects abusive
behavioral patterns and keeps a log of security incidents.

Configuration is read from GUARD_* environment variables and an optional
YAML policy file (GUARD_POLICY_FILE).`,
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(), newSweepCmd(), newScoreCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if debugFlag {
		cfg.Debug = true
	}
	return cfg, nil
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// setupLogging logs to stdout and a rotated file under logDir.
func setupLogging(cfg config.Config) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Init(cfg.Debug, os.Stdout)
		logger.Log().WithError(err).Warn("log directory unavailable, logging to stdout only")
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "guard.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
}

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, detector workers and scheduled sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			setupLogging(cfg)
			logger.Log().WithField("version", version.Full()).Infof("starting %s", version.Name)

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			srv, err := server.New(db, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Log().Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides GUARD_HTTP_PORT)")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var timeout time.Duration
	return withTimeout(&cobra.Command{
		Use:   "sweep",
		Short: "Prune old attempts and auto-resolve stale incidents once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Debug, cmd.ErrOrStderr())
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			guard := services.NewGuard(db, cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := guard.Sweep.Run(ctx)
			if encErr := writeJSON(cmd.OutOrStdout(), res); encErr != nil {
				return encErr
			}
			return err
		},
	}, &timeout)
}

func newScoreCmd() *cobra.Command {
	var timeout, lookback time.Duration
	cmd := withTimeout(&cobra.Command{
		Use:   "score <ip>",
		Short: "Print the suspicion score of a source address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, ok := util.NormalizeIP(args[0])
			if !ok {
				return fmt.Errorf("invalid ip address %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Debug, cmd.ErrOrStderr())
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			if lookback <= 0 {
				lookback = cfg.SuspicionLookback
			}
			guard := services.NewGuard(db, cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return writeJSON(cmd.OutOrStdout(), guard.Scorer.Score(ctx, ip, lookback))
		},
	}, &timeout)
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "Window to score (default GUARD_SUSPICION_LOOKBACK)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an operator or service token signed with GUARD_OPERATOR_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case middleware.RoleOperator, middleware.RoleService, middleware.RoleAdmin:
			default:
				return fmt.Errorf("role must be %q, %q or %q", middleware.RoleOperator, middleware.RoleService, middleware.RoleAdmin)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := middleware.IssueOperatorToken(cfg.OperatorSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleOperator, "Token role (operator, service or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Name, version.Full())
		},
	}
}

func withTimeout(cmd *cobra.Command, timeout *time.Duration) *cobra.Command {
	cmd.Flags().DurationVar(timeout, "timeout", time.Minute, "Overall deadline")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
