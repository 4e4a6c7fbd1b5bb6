package cmd

import (
	"context"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/bugflow/internal/api"
	"github.com/joescharf/bugflow/internal/triage"
)

// newTriager creates a model-backed triager from config/env, or returns nil if
// no API key is configured.
func newTriager() api.Triager {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return triage.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// suggestTriage asks the configured model for a classification and falls back
// to keyword heuristics.
func suggestTriage(ctx context.Context, title, description string) triage.Result {
	if t := newTriager(); t != nil {
		ui.VerboseLog("Asking %s to triage...", viper.GetString("anthropic.model"))
		res, err := t.Triage(ctx, title, description)
		if err == nil {
			return *res
		}
		ui.Warning("Triage failed, using heuristics: %v", err)
	}
	return triage.Heuristic(title, description)
}
