package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/policysim/internal/config"
	"github.com/talgya/policysim/internal/persistence"
	"github.com/talgya/policysim/internal/policy"
	"github.com/talgya/policysim/internal/presets"
)

func newPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "Manage the preset catalog",
	}
	cmd.AddCommand(
		newPresetsListCmd(),
		newPresetsImportCmd(),
		newPresetsExportCmd(),
		newPresetsDefaultCmd(),
		newPresetsDeleteCmd(),
	)
	return cmd
}

type presetListing struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Domains     int    `json:"domains"`
	Years       int    `json:"years"`
	Iterations  int    `json:"iterations"`
	Default     bool   `json:"default"`
	StoredAt    string `json:"storedAt,omitempty"` // RFC 3339; empty for presets not in the catalog DB
}

func newPresetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, db, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}
			def := defaultPreset(cfg, db, catalog, presetOverride(cmd))

			var listing []presetListing
			stored := make(map[string]time.Time)
			for _, sc := range catalog.All() {
				p := presetListing{
					Name:        sc.Name,
					Description: sc.Description,
					Domains:     sc.Size(),
					Years:       sc.Params.Years,
					Iterations:  sc.Params.Iterations,
					Default:     sc.Name == def,
				}
				if db != nil {
					if at, err := db.PresetUpdatedAt(sc.Name); err == nil {
						stored[sc.Name] = at
						p.StoredAt = at.UTC().Format(time.RFC3339)
					} else if !errors.Is(err, persistence.ErrNotFound) {
						return fmt.Errorf("preset %q: %w", sc.Name, err)
					}
				}
				listing = append(listing, p)
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(listing)
			}
			for _, p := range listing {
				marker := " "
				if p.Default {
					marker = "*"
				}
				origin := "built-in"
				if at, ok := stored[p.Name]; ok {
					origin = "stored " + humanize.Time(at)
				}
				fmt.Fprintf(out, "%s %-20s %2d domains  %2dY  %6s iter  %-18s %s\n",
					marker, p.Name, p.Domains, p.Years, humanize.Comma(int64(p.Iterations)), origin, p.Description)
			}
			return nil
		},
	}
}

func newPresetsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Validate a YAML preset file and store its presets in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			scenarios, err := presets.LoadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.SavePresets(scenarios); err != nil {
				return fmt.Errorf("store presets: %w", err)
			}
			names := make([]string, len(scenarios))
			for i, sc := range scenarios {
				names[i] = sc.Name
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d preset(s): %s\n", len(scenarios), strings.Join(names, ", "))
			return nil
		},
	}
}

func newPresetsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [NAME...]",
		Short: "Write presets as YAML (all presets when no name is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, db, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			var scenarios []policy.Scenario
			if len(args) == 0 {
				scenarios = catalog.All()
			}
			for _, name := range args {
				sc, ok := catalog.Lookup(name)
				if !ok {
					return fmt.Errorf("unknown preset %q", name)
				}
				scenarios = append(scenarios, sc)
			}

			data, err := presets.Marshal(scenarios)
			if err != nil {
				return err
			}
			if path, _ := cmd.Flags().GetString("output"); path != "" {
				return os.WriteFile(path, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newPresetsDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default [NAME]",
		Short: "Show or set the preset activated at start",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			catalog, db, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("catalog.db_path is not configured")
			}
			defer db.Close()

			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), defaultPreset(cfg, db, catalog, presetOverride(cmd)))
				return nil
			}
			if _, ok := catalog.Lookup(args[0]); !ok {
				return fmt.Errorf("unknown preset %q", args[0])
			}
			if err := db.SaveMeta(persistence.MetaDefaultPreset, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default preset set to %s\n", args[0])
			return nil
		},
	}
}

func newPresetsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored preset (built-ins cannot be removed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeletePreset(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

// openDB opens the configured catalog database for commands that write to it.
func openDB(cfg *config.Config) (*persistence.DB, error) {
	if cfg.Catalog.DBPath == "" {
		return nil, errors.New("catalog.db_path is not configured")
	}
	if err := ensureDir(cfg.Catalog.DBPath); err != nil {
		return nil, err
	}
	return persistence.Open(cfg.Catalog.DBPath)
}
