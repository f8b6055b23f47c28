package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/internal/realtime"
	"github.com/lumimeds/realtime/internal/session"
	"github.com/lumimeds/realtime/pkg/logger"
	"github.com/lumimeds/realtime/pkg/metrics"
	"github.com/lumimeds/realtime/pkg/version"
)

var (
	configPath string
	token      string
)

func init() {
	rootCmd.AddCommand(versionCmd, tailCmd)
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "lumid.yaml", "path to configuration file")
	tailCmd.Flags().StringVarP(&token, "token", "t", "", "bearer token (defaults to LUMIMEDS_TOKEN)")
}

var (
	rootCmd = &cobra.Command{
		Use:   "lumid",
		Short: "LumiMeds realtime client",
		Long:  `lumid connects to the LumiMeds push endpoints and tails realtime events`,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lumid",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lumid version %s\n", version.Get())
		},
	}

	tailCmd = &cobra.Command{
		Use:   "tail",
		Short: "Connect all configured namespaces and print incoming events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail()
		},
	}
)

// eventNames lists the wire events each namespace can deliver, for the
// catch-all subscriptions the tail command installs.
var eventNames = map[string][]string{
	cnst.NamespaceNotifications: {cnst.EventNotificationNew, cnst.EventNotificationRead},
	cnst.NamespaceDashboard:     {cnst.EventDashboardUpdate},
	cnst.NamespaceChat:          {cnst.EventMessageNew},
}

func runTail() error {
	cfg, cfgPath, err := config.LoadConfig[config.Config](configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	zlog, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()

	if token == "" {
		token = os.Getenv("LUMIMEDS_TOKEN")
	}
	creds := session.StaticCredential(token)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	client, err := realtime.New(cfg, creds, zlog, m)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		zlog.Warn("some namespaces failed to connect", zap.Error(err))
	}

	for ns, events := range eventNames {
		ns, events := ns, events
		if err := client.OnStatusChange(ns, func(s session.Status) {
			fmt.Printf("[%s] status: %s\n", ns, s)
		}); err != nil {
			continue
		}
		for _, ev := range events {
			ev := ev
			_ = client.Subscribe(ns, ev, func(data []byte) {
				fmt.Printf("[%s] %s %s\n", ns, ev, string(data))
			})
		}
	}

	for _, stream := range []string{cnst.StreamNotifications, cnst.StreamDashboard, cnst.StreamMessages} {
		st, err := client.Feed(stream)
		if err != nil {
			continue
		}
		if _, err := st.LoadPage(ctx, 1); err != nil {
			zlog.Warn("initial page load failed", zap.String("stream", stream), zap.Error(err))
			continue
		}
		fmt.Printf("[%s] loaded %d items, %d unread\n", stream, len(st.Items()), st.UnreadCount())
	}

	<-ctx.Done()
	zlog.Info("shutting down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
