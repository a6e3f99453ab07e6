// Command assethubd runs the asset pipeline metadata hub: a long-running
// daemon exposing a content-addressed database of imported assets over a
// capability-based RPC connection.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/assethub/internal/broadcast"
	"github.com/cuemby/assethub/internal/config"
	"github.com/cuemby/assethub/internal/filesource"
	"github.com/cuemby/assethub/internal/log"
	"github.com/cuemby/assethub/internal/metrics"
	"github.com/cuemby/assethub/internal/rpc"
	"github.com/cuemby/assethub/internal/store"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "assethubd",
	Short: "assethubd is the query-and-notification daemon for an asset pipeline's metadata hub",
	Long: `assethubd exposes a content-addressed database of imported assets over
an RPC connection. Clients attach, fetch snapshots of asset metadata and
artifact bytes, resolve paths to asset identities, and subscribe to
change notifications as the underlying file tracker commits new batches.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"assethubd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the asset hub daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "TCP address to listen on, e.g. :9450 (overrides config)")
	serveCmd.Flags().String("socket", "", "Unix domain socket path to listen on (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Directory holding the bbolt database file (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Address for /metrics, /health, /ready (overrides config)")
	serveCmd.Flags().StringSlice("watch-dir", nil, "Watch directory for relative path resolution, repeatable (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, &cfg)

	logger := log.WithComponent("assethubd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.Open(filepath.Join(cfg.DataDir, "assethub.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	src, err := filesource.NewBoltFileSource()
	if err != nil {
		return fmt.Errorf("init file source: %w", err)
	}
	defer src.Close()

	bc := broadcast.New(s, src, logger)

	svcCtx := &rpc.ServiceContext{
		Store:       s,
		Source:      src,
		Broadcaster: bc,
		WatchDirs:   cfg.WatchDirs,
	}
	root := rpc.NewServiceRoot(svcCtx)

	host := rpc.NewHost(rpc.HostConfig{
		Addr:              cfg.Addr,
		SocketPath:        cfg.SocketPath,
		MaxConns:          cfg.MaxConns,
		SocketBufferBytes: cfg.SocketBufferBytes,
	}, root, logger)

	health := metrics.NewHealthServer(Version)
	go func() {
		if err := health.ListenAndServe(cfg.MetricsAddr); err != nil {
			logger.Error().Err(err).Msg("health server exited")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- host.Serve()
	}()
	health.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("connection host exited with error")
		}
	}

	health.SetReady(false)
	return host.Close()
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Addr = v
	}
	if v, _ := cmd.Flags().GetString("socket"); v != "" {
		cfg.SocketPath = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := cmd.Flags().GetStringSlice("watch-dir"); len(v) > 0 {
		cfg.WatchDirs = v
	}
}
