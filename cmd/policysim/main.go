// Command policysim runs the adaptive Markov-chain / Monte Carlo policy
// simulation as an HTTP service or as one-shot CLI runs.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talgya/policysim/internal/config"
	"github.com/talgya/policysim/internal/persistence"
	"github.com/talgya/policysim/internal/presets"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policysim",
		Short: "Adaptive Markov-chain / Monte Carlo policy simulation",
		Long: `policysim estimates the distribution of long-run discounted value (NPV)
for a funded policy program whose effects propagate through a graph of
causally linked domains.

It can serve live, continuously refined statistics over HTTP or run a
single Monte Carlo pass from the command line.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newRunCmd(),
		newPresetsCmd(),
		newSelfCheckCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "policysim version %s\n", version)
			}
		},
	}
}

// loadConfig reads --config and installs the configured default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging, cmd.ErrOrStderr()))
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openCatalog assembles the preset catalog: built-ins, then the configured
// presets file, then anything stored in SQLite. The returned DB is nil when
// no database path is configured.
func openCatalog(cfg *config.Config) (*presets.Catalog, *persistence.DB, error) {
	catalog := presets.NewCatalog(presets.Builtin()...)

	if cfg.Catalog.PresetsFile != "" {
		scenarios, err := presets.LoadFile(cfg.Catalog.PresetsFile)
		if err != nil {
			return nil, nil, err
		}
		for _, sc := range scenarios {
			catalog.Put(sc)
		}
		slog.Info("presets file loaded", "path", cfg.Catalog.PresetsFile, "presets", len(scenarios))
	}

	if cfg.Catalog.DBPath == "" {
		return catalog, nil, nil
	}
	if err := ensureDir(cfg.Catalog.DBPath); err != nil {
		return nil, nil, err
	}
	db, err := persistence.Open(cfg.Catalog.DBPath)
	if err != nil {
		return nil, nil, err
	}
	stored, err := db.LoadPresets()
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load stored presets: %w", err)
	}
	for _, sc := range stored {
		catalog.Put(sc)
	}
	slog.Debug("catalog opened", "path", cfg.Catalog.DBPath, "stored", len(stored), "total", catalog.Len())
	return catalog, db, nil
}

// defaultPreset picks the start-up preset. An explicit override (--preset
// or POLICYSIM_DEFAULT_PRESET) wins, then the catalog's remembered default
// while it still names a known preset, then the configured default, then
// the built-in default.
func defaultPreset(cfg *config.Config, db *persistence.DB, catalog *presets.Catalog, override string) string {
	if override != "" {
		return override
	}
	if db != nil {
		if name, err := db.GetMeta(persistence.MetaDefaultPreset); err == nil && name != "" {
			if _, ok := catalog.Lookup(name); ok {
				return name
			}
			slog.Warn("stored default preset is not in the catalog", "preset", name)
		}
	}
	if cfg.Catalog.Default != "" {
		return cfg.Catalog.Default
	}
	return presets.DefaultName
}

// presetOverride returns the preset the operator asked for explicitly: the
// command's --preset flag, else POLICYSIM_DEFAULT_PRESET.
func presetOverride(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("preset"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return os.Getenv("POLICYSIM_DEFAULT_PRESET")
}

// ensureDir creates the parent directory of path when needed.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	return nil
}
