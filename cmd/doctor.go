package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/guardian/internal/ollama"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the database and model endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctorRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	problems := 0

	dbPath := viper.GetString("db_path")
	if _, err := getStore(); err != nil {
		ui.Error("Database %s: %v", dbPath, err)
		problems++
	} else {
		ui.Success("Database %s", dbPath)
	}

	switch provider := viper.GetString("provider"); provider {
	case "", "ollama":
		problems += checkOllama(ctx)
	case "anthropic":
		if anthropicAPIKey() == "" {
			ui.Error("Anthropic API key not set (anthropic.api_key or ANTHROPIC_API_KEY)")
			problems++
		} else {
			ui.Success("Anthropic API key configured (model %s)", viper.GetString("anthropic.model"))
		}
	default:
		ui.Error("Unknown provider %q", provider)
		problems++
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	return nil
}

func checkOllama(ctx context.Context) int {
	client := ollama.NewClient(ollama.Config{
		BaseURL: viper.GetString("ollama.url"),
		Model:   viper.GetString("ollama.model"),
		Timeout: viper.GetDuration("ollama.timeout"),
	}, nil)

	res, err := client.Check(ctx)
	if err != nil {
		ui.Error("Ollama at %s: %v", viper.GetString("ollama.url"), err)
		return 1
	}
	ui.Success("Ollama reachable at %s", viper.GetString("ollama.url"))

	if !res.ModelPresent {
		ui.Warning("Model %s is not pulled (run: ollama pull %s)", client.Model(), client.Model())
		if len(res.ModelNames) > 0 {
			ui.VerboseLog("Available models: %s", strings.Join(res.ModelNames, ", "))
		}
		return 1
	}
	ui.Success("Model %s available", client.Model())
	return 0
}
