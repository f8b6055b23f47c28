package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/cmd/mock-push/backend"
	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/pkg/logger"
	"github.com/lumimeds/realtime/pkg/version"
)

var configPath string

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "mock-push.yaml", "path to configuration file")
}

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-push",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mock-push version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-push",
		Short: "Mock push server",
		Long:  `mock-push serves the websocket namespaces and REST history endpoints the realtime client expects, for local development`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func run() error {
	cfg, cfgPath, err := config.LoadConfig[config.MockPushConfig](configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 5317
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "mock-push-dev-secret"
	}

	zlog, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := backend.NewServer(cfg, zlog)
	if err := srv.Run(ctx); err != nil {
		zlog.Error("server error", zap.Error(err))
		return err
	}
	zlog.Info("mock push server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
