package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/gotopics"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	dbPath     string
}

var rootCmd = &cobra.Command{
	Use:   "gotopics",
	Short: "Discover topics, sentiment and summaries in free-text feedback",
	Long: `gotopics groups feedback into topics and subtopics, labels each
subtopic with its prevailing sentiment and writes a short summary of it.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", "", "Config file (YAML or JSON)")
	f.StringVar(&rootFlags.envFile, "env", ".env", "Environment file to load if present")
	f.StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.dbPath, "db", "", "Run store path (default: ~/.gotopics/gotopics.db)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.Version = version
}

func setup(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rootFlags.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", rootFlags.logLevel)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := godotenv.Load(rootFlags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", rootFlags.envFile, err)
	}
	return nil
}

// loadConfig builds the engine config from the config file, environment
// and flags, in that order.
func loadConfig() (gotopics.Config, error) {
	cfg := gotopics.DefaultConfig()
	if rootFlags.configPath != "" {
		var err error
		if cfg, err = gotopics.LoadConfig(rootFlags.configPath); err != nil {
			return cfg, err
		}
	}
	if err := gotopics.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if rootFlags.dbPath != "" {
		cfg.DBPath = rootFlags.dbPath
		cfg.Store = true
	}
	return cfg, nil
}

// openStore creates an engine for history commands, which always need the
// run store.
func openStore() (gotopics.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Store = true
	return gotopics.New(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
