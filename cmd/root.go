package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/guardian/internal/llm"
	"github.com/joescharf/guardian/internal/ollama"
	"github.com/joescharf/guardian/internal/output"
	"github.com/joescharf/guardian/internal/review"
	"github.com/joescharf/guardian/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Guardian - AI code review with a persistent issue tracker",
	Long: `guardian sends source files to a local language model for review,
extracts the issues it reports, and tracks them in a SQLite database
across sessions. Re-reviewing unchanged code does not create duplicates.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/guardian/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Issue database path (overrides db_path)")
	_ = viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "guardian"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GUARDIAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults() {
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "guardian")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "code_issues.db"))
	viper.SetDefault("provider", "ollama")
	viper.SetDefault("ollama.url", ollama.DefaultBaseURL)
	viper.SetDefault("ollama.model", ollama.DefaultModel)
	viper.SetDefault("ollama.timeout", ollama.DefaultTimeout)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", llm.DefaultModel)
	viper.SetDefault("review.include", []string{"*.py"})
	viper.SetDefault("review.rules_file", "")
	viper.SetDefault("extract.parse_effort", false)
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// newStreamer builds the model client selected by the provider key.
func newStreamer() (review.Streamer, error) {
	switch provider := viper.GetString("provider"); provider {
	case "", "ollama":
		return ollama.NewClient(ollama.Config{
			BaseURL: viper.GetString("ollama.url"),
			Model:   viper.GetString("ollama.model"),
			Timeout: viper.GetDuration("ollama.timeout"),
		}, nil), nil
	case "anthropic":
		key := anthropicAPIKey()
		if key == "" {
			return nil, fmt.Errorf("anthropic provider needs an API key (set anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		return llm.NewClient(key, viper.GetString("anthropic.model"), 0), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want ollama or anthropic)", provider)
	}
}
