package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/marks/internal/api"
	"github.com/pbaille/marks/internal/app"
	"github.com/pbaille/marks/internal/config"
	"github.com/pbaille/marks/internal/logging"
	"github.com/pbaille/marks/internal/mcpserver"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	dataDir    string
	logLevel   string
)

func main() {
	defaultConfig := filepath.Join(config.DefaultDataDir(), "config.yaml")

	rootCmd := &cobra.Command{
		Use:           "marks",
		Short:         "Capture, enrich and sync notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(markCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openApp loads config and assembles the application context. json selects
// the structured log encoder used by long-running servers.
func openApp(ctx context.Context, json bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, json || cfg.Log.JSON)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cfg.Sync.ImageHost {
		if err := a.EnableImageHost(ctx); err != nil {
			log.Warn("image hosting disabled", zap.Error(err))
		}
	}
	return a, nil
}

func closeApp(a *app.App) {
	a.Close()
	a.Log.Sync()
}

// resolveTag accepts a tag id or name; empty means the active tag
func resolveTag(ctx context.Context, a *app.App, ref string) (int64, error) {
	if ref == "" {
		return a.Tags.Active(), nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, ok := a.Tags.Get(id); ok {
			return id, nil
		}
	}
	t, err := a.Store.GetTagByName(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("tag %q: %w", ref, err)
	}
	return t.ID, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %s", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			return api.New(a, addr).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve marks to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeApp(a)

			return mcpserver.New(a, version).Start()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("marks %s\n", version)
		},
	}
}
