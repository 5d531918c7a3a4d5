// Command mbot is a maintenance CLI for mentionbot: one-off check cycles,
// dedup store inspection and config helpers.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/mentionbot/internal/app"
	"github.com/ibeckermayer/mentionbot/internal/config"
	"github.com/ibeckermayer/mentionbot/internal/engine"
	"github.com/ibeckermayer/mentionbot/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "mbot",
		Short:         "mentionbot maintenance CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MENTIONBOT_CONFIG"), "Config file path (TOML)")

	cmd.AddCommand(
		checkCmd(&configPath),
		keysCmd(&configPath),
		pruneCmd(&configPath),
		openCmd(),
		configCmd(&configPath),
	)
	return cmd
}

// checkCmd runs one cycle. This is the entry point for external schedulers
// and serverless invocations.
func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one check cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := app.New(ctx, cfg, app.Options{
				ConfigPath: *configPath,
				Registerer: prometheus.NewRegistry(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Check(ctx, engine.TriggerCLI)
			if report != nil {
				printJSON(cmd, report)
			}
			return err
		},
	}
}

func keysCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List handled thread keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigLenient(*configPath)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			records := store.Records()
			if asJSON {
				printJSON(cmd, records)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tHANDLED AT")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\n", r.Key, time.UnixMilli(r.HandledAtMs).Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func pruneCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop records older than the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigLenient(*configPath)
			if err != nil {
				return err
			}
			// Opening the store prunes expired records and rewrites the backend.
			store, err := app.OpenStore(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%d records within the last %d days\n", store.Len(), cfg.Dedup.RetentionDays)
			return nil
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|data>",
		Short:     "Open the config file or data directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "data"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "config":
				return app.OpenConfigFile()
			case "data":
				return app.OpenDataDir()
			default:
				return fmt.Errorf("unknown target: %s", args[0])
			}
		},
	}
}

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath(*configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveTo(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file, including environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.LoadConfig(*configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// loadConfigLenient loads config without validating credentials, which the
// store commands do not need.
func loadConfigLenient(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFrom(path)
	}
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.ConfigPath()
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to encode output: %v\n", err)
	}
}

