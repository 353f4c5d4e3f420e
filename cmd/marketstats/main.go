package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"marketstats.shikanime.studio/cmd/marketstats/app"
	"marketstats.shikanime.studio/internal/config"
	"marketstats.shikanime.studio/internal/database"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var (
	cfg = config.New()

	rootCmd = &cobra.Command{
		Use:               "marketstats",
		Short:             "VS Code Marketplace install statistics tracker",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Run the API server and the crawl scheduler",
		RunE:  runServer,
	}
	crawlCmd = &cobra.Command{
		Use:   "crawl",
		Short: "Run a single crawl cycle",
		RunE:  runCrawl,
	}
	refreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Invalidate the marketplace cache and run a crawl cycle",
		RunE:  runRefresh,
	}
	addCmd = &cobra.Command{
		Use:   "add <publisher.extension>...",
		Short: "Start tracking extensions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAdd,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		RunE:  runMigrateDown,
	}

	// Flags
	addr       string
	dsn        string
	configFile string
	publishers []string
	readOnly   bool
)

func init() {
	serverCmd.Flags().StringVar(&addr, "addr", "", "Address to run the server on (host:port). If empty, uses HOST and PORT environment variables")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database source name in the format driver://dataSourceName. Falls back to DSN environment variable")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a configuration file, watched for log level changes")
	rootCmd.PersistentFlags().StringSliceVar(&publishers, "publishers", nil, "Watched publishers. Falls back to WATCHED_PUBLISHERS environment variable")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "read-only", false, "Skip every write of crawl cycles. Falls back to READ_ONLY environment variable")
	migrateCmd.AddCommand(upCmd, downCmd)
	rootCmd.AddCommand(serverCmd, crawlCmd, refreshCmd, addCmd, migrateCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if err := cfg.ReadFile(configFile); err != nil {
			return err
		}
	}
	if dsn != "" {
		cfg.Set("DSN", dsn)
	}
	if len(publishers) > 0 {
		cfg.Set("WATCHED_PUBLISHERS", publishers)
	}
	if cmd.Flags().Changed("read-only") {
		cfg.Set("READ_ONLY", readOnly)
	}
	config.SetupLog(cfg)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func openApp(ctx context.Context) (*app.App, func(), error) {
	shutdown, err := config.SetupTelemetry(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.NewForConfig(ctx, cfg)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
		shutdown()
	}, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	cfg.Watch()

	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	finalAddr := addr
	if finalAddr == "" {
		finalAddr = cfg.GetAddr()
	}
	if err := a.Serve(ctx, finalAddr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()
	res, err := a.Watcher().RunCrawlCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", res)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()
	res, err := a.Watcher().Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", res)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	a, closeApp, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp()
	for _, id := range args {
		ext, err := a.Watcher().AddExtension(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s was added\n", ext.DisplayName)
	}
	return nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Down()
}
