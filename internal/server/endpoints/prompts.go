package endpoints

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/prompts"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// PromptSummary is a catalog entry without its text.
type PromptSummary struct {
	Key         string   `json:"key"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	Hash        string   `json:"hash"`
}

// PromptsListResponse contains all registered prompts.
type PromptsListResponse struct {
	Prompts []PromptSummary `json:"prompts"`
}

// ListPromptsEndpoint handles GET /api/prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts", e.handler
}

func (e *ListPromptsEndpoint) RequiresInit() bool { return true }

func (e *ListPromptsEndpoint) Group() string { return "prompts" }

// handler godoc
//
//	@Summary		List prompts
//	@Tags			prompts
//	@Produce		json
//	@Param			prefix	query	string	false	"Filter by key prefix"
//	@Success		200	{object}	PromptsListResponse
//	@Router			/api/prompts [get]
func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	resp := PromptsListResponse{Prompts: []PromptSummary{}}
	for _, p := range svcctx.PromptsFrom(r.Context()).List() {
		if prefix != "" && !strings.HasPrefix(p.Key, prefix) {
			continue
		}
		resp.Prompts = append(resp.Prompts, PromptSummary{
			Key:         p.Key,
			Description: p.Description,
			Variables:   p.Variables,
			Hash:        p.Hash,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPromptsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the prompt templates collaborator calls use",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/prompts"
			if prefix != "" {
				path += "?" + url.Values{"prefix": {prefix}}.Encode()
			}
			return getOutput[PromptsListResponse](cmd, getServerURL(), path)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only keys with this prefix (e.g. extract.)")
	return cmd
}

// GetPromptEndpoint handles GET /api/prompts/{key...}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/prompts/{key...}", e.handler
}

func (e *GetPromptEndpoint) RequiresInit() bool { return true }

func (e *GetPromptEndpoint) Group() string { return "prompts" }

// handler godoc
//
//	@Summary		Get prompt by key
//	@Tags			prompts
//	@Produce		json
//	@Param			key	path	string	true	"Prompt key (URL-encoded)"
//	@Success		200	{object}	prompts.EmbeddedPrompt
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/prompts/{key} [get]
func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return
	}

	p, ok := svcctx.PromptsFrom(r.Context()).Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found: "+key)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (e *GetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a prompt template by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[prompts.EmbeddedPrompt](cmd, getServerURL(), "/api/prompts/"+url.PathEscape(args[0]))
		},
	}
}
