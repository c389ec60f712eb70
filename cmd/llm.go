package cmd

import (
	"os"

	"github.com/spf13/viper"
)

// anthropicAPIKey returns the configured Anthropic key, falling back to
// ANTHROPIC_API_KEY. Empty means the anthropic provider is unusable.
func anthropicAPIKey() string {
	if key := viper.GetString("anthropic.api_key"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}
