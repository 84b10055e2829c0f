package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chadiek/hospital-callbot/internal/config"
	"github.com/chadiek/hospital-callbot/internal/infra/kv"
	"github.com/chadiek/hospital-callbot/internal/infra/storage"
	"github.com/chadiek/hospital-callbot/internal/registry"
	"github.com/chadiek/hospital-callbot/internal/scenario"
	"github.com/chadiek/hospital-callbot/internal/usecase"
)

var scenariosFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callbot",
	Short: "Patient voice bot for testing a hospital phone agent",
	Long: `callbot phones a hospital's AI phone agent, plays a scripted patient,
records both sides and reports the bugs it heard.

Configuration comes from environment variables (and .env).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&scenariosFile, "scenarios", "", "YAML scenario file (default SCENARIOS_FILE, else the built-in set)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(scenariosCmd)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func loadCatalog(cfg config.Config) (*scenario.Catalog, error) {
	path := scenariosFile
	if path == "" {
		path = cfg.ScenariosFile
	}
	if path != "" {
		return scenario.Load(path)
	}
	return scenario.NewCatalog(scenario.Builtin())
}

// app is everything a command needs, built from one Config.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	catalog  *scenario.Catalog
	index    kv.Store
	registry *registry.Registry
	store    storage.Store
}

func newApp() (*app, error) {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	store, err := usecase.NewStore(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	index, err := usecase.OpenIndex(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		log:      logger,
		catalog:  catalog,
		index:    index,
		registry: registry.New(index),
		store:    store,
	}, nil
}

func (a *app) calls() *usecase.Calls {
	return usecase.NewCalls(usecase.CallsConfig{
		RecordingDir: a.cfg.Storage.RecordingDir,
		Session:      usecase.SessionConfig(a.cfg),
		Thresholds:   usecase.Thresholds(a.cfg),
		Validate:     a.cfg.ValidateForCalls,
		Logger:       a.log,
	}, usecase.NewAdapters(a.cfg, a.log), a.catalog, a.registry, a.store)
}

func (a *app) Close() error {
	return a.index.Close()
}
