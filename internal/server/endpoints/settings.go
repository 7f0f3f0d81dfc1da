package endpoints

import (
	"fmt"
	"maps"
	"net/http"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/guideshelf/internal/config"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// SettingsResponse is the effective configuration keyed the way config.yaml
// is written. API keys are masked.
type SettingsResponse struct {
	Settings map[string]any `json:"settings"`
}

// SettingsEndpoint handles GET /api/settings.
type SettingsEndpoint struct{}

func (e *SettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *SettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get effective settings
//	@Description	Configuration keyed as in config.yaml, with API keys masked
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *SettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.DefaultConfig()
	if mgr := svcctx.ConfigFrom(r.Context()); mgr != nil {
		cfg = mgr.Get()
	}
	settings, err := settingsMap(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{Settings: settings})
}

// settingsMap renders cfg through its yaml tags so keys and durations read
// the same as in config.yaml.
func settingsMap(cfg *config.Config) (map[string]any, error) {
	masked := *cfg
	masked.LLMProviders = maps.Clone(cfg.LLMProviders)
	for name, p := range masked.LLMProviders {
		p.APIKey = maskSecret(p.APIKey)
		masked.LLMProviders[name] = p
	}

	raw, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}

func (e *SettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the server's effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[SettingsResponse](cmd, getServerURL(), "/api/settings")
		},
	}
}
