package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/llmcall"
	"github.com/jackzampolin/guideshelf/internal/metrics"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// LLMCallsResponse contains a list of LLM calls.
type LLMCallsResponse struct {
	Calls []llmcall.Call `json:"calls"`
	Total int            `json:"total"`
}

// LLMCallCountsResponse contains prompt key counts.
type LLMCallCountsResponse struct {
	BookID string         `json:"book_id"`
	Counts map[string]int `json:"counts"`
}

// ListLLMCallsEndpoint handles GET /api/llmcalls.
type ListLLMCallsEndpoint struct{}

func (e *ListLLMCallsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls", e.handler
}

func (e *ListLLMCallsEndpoint) RequiresInit() bool { return true }

func (e *ListLLMCallsEndpoint) Group() string { return "llmcalls" }

// handler godoc
//
//	@Summary		List LLM calls
//	@Tags			llmcalls
//	@Produce		json
//	@Param			book_id	query	string	false	"Filter by book ID"
//	@Param			job_id	query	string	false	"Filter by job ID"
//	@Param			prompt_key	query	string	false	"Filter by prompt key"
//	@Param			provider	query	string	false	"Filter by provider"
//	@Param			success	query	bool	false	"Filter by success"
//	@Param			after	query	string	false	"Filter calls after this RFC3339 timestamp"
//	@Param			before	query	string	false	"Filter calls before this RFC3339 timestamp"
//	@Param			limit	query	int	false	"Maximum results (default 100)"
//	@Param			offset	query	int	false	"Results to skip"
//	@Success		200	{object}	LLMCallsResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls [get]
func (e *ListLLMCallsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCallFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	calls, err := svcctx.LLMCallStoreFrom(r.Context()).List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if calls == nil {
		calls = []llmcall.Call{}
	}

	writeJSON(w, http.StatusOK, LLMCallsResponse{Calls: calls, Total: len(calls)})
}

func parseCallFilter(q url.Values) (llmcall.QueryFilter, error) {
	filter := llmcall.QueryFilter{
		BookID:    q.Get("book_id"),
		JobID:     q.Get("job_id"),
		PromptKey: q.Get("prompt_key"),
		Provider:  q.Get("provider"),
		Limit:     100,
	}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid success filter: %q must be true or false", v)
		}
		filter.Success = &b
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid limit: %q must be an integer", v)
		}
		if limit > 0 {
			filter.Limit = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return filter, fmt.Errorf("invalid offset: %q must be an integer", v)
		}
		filter.Offset = offset
	}
	for name, dst := range map[string]**time.Time{"after": &filter.After, "before": &filter.Before} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s time: %q must be RFC3339 (e.g. 2024-01-15T00:00:00Z)", name, v)
		}
		*dst = &t
	}
	return filter, nil
}

func (e *ListLLMCallsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bookID, jobID, promptKey, provider string
	var limit, offset int
	var successOnly, failedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded LLM calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if successOnly && failedOnly {
				return fmt.Errorf("--success and --failed are mutually exclusive")
			}
			params := url.Values{}
			for k, v := range map[string]string{
				"book_id":    bookID,
				"job_id":     jobID,
				"prompt_key": promptKey,
				"provider":   provider,
			} {
				if v != "" {
					params.Set(k, v)
				}
			}
			if successOnly {
				params.Set("success", "true")
			}
			if failedOnly {
				params.Set("success", "false")
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}

			path := "/api/llmcalls"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp LLMCallsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&bookID, "book-id", "", "Filter by book ID")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Filter by job ID")
	cmd.Flags().StringVar(&promptKey, "prompt-key", "", "Filter by prompt key")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider")
	cmd.Flags().BoolVar(&successOnly, "success", false, "Only show successful calls")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed calls")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Result offset")
	return cmd
}

// GetLLMCallEndpoint handles GET /api/llmcalls/{id}.
type GetLLMCallEndpoint struct{}

func (e *GetLLMCallEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/{id}", e.handler
}

func (e *GetLLMCallEndpoint) RequiresInit() bool { return true }

func (e *GetLLMCallEndpoint) Group() string { return "llmcalls" }

// handler godoc
//
//	@Summary		Get LLM call by ID
//	@Tags			llmcalls
//	@Produce		json
//	@Param			id	path	string	true	"LLM call ID"
//	@Success		200	{object}	llmcall.Call
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls/{id} [get]
func (e *GetLLMCallEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	call, err := svcctx.LLMCallStoreFrom(r.Context()).Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "LLM call not found")
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (e *GetLLMCallEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an LLM call by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[llmcall.Call](cmd, getServerURL(), "/api/llmcalls/"+args[0])
		},
	}
}

// LLMCallCountsEndpoint handles GET /api/llmcalls/counts/{book_id}.
type LLMCallCountsEndpoint struct{}

func (e *LLMCallCountsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/llmcalls/counts/{book_id}", e.handler
}

func (e *LLMCallCountsEndpoint) RequiresInit() bool { return true }

func (e *LLMCallCountsEndpoint) Group() string { return "llmcalls" }

// handler godoc
//
//	@Summary		Count LLM calls by prompt key
//	@Tags			llmcalls
//	@Produce		json
//	@Param			book_id	path	string	true	"Book ID"
//	@Success		200	{object}	LLMCallCountsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/llmcalls/counts/{book_id} [get]
func (e *LLMCallCountsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	counts, err := svcctx.LLMCallStoreFrom(r.Context()).CountByPromptKey(r.Context(), bookID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if counts == nil {
		counts = map[string]int{}
	}
	writeJSON(w, http.StatusOK, LLMCallCountsResponse{BookID: bookID, Counts: counts})
}

func (e *LLMCallCountsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <book-id>",
		Short: "Count a book's LLM calls by prompt key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[LLMCallCountsResponse](cmd, getServerURL(), "/api/llmcalls/counts/"+args[0])
		},
	}
}

// MetricsEndpoint handles GET /api/metrics. It accepts the same filters as
// GET /api/llmcalls and aggregates every matching call.
type MetricsEndpoint struct{}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return true }

func (e *MetricsEndpoint) Group() string { return "llmcalls" }

// handler godoc
//
//	@Summary		Aggregate LLM call metrics
//	@Description	Latency, tokens and cost over every call matching the filters
//	@Tags			llmcalls
//	@Produce		json
//	@Param			book_id	query	string	false	"Filter by book ID"
//	@Param			job_id	query	string	false	"Filter by job ID"
//	@Param			prompt_key	query	string	false	"Filter by prompt key"
//	@Param			provider	query	string	false	"Filter by provider"
//	@Param			success	query	bool	false	"Filter by success"
//	@Param			after	query	string	false	"Filter calls after this RFC3339 timestamp"
//	@Param			before	query	string	false	"Filter calls before this RFC3339 timestamp"
//	@Param			limit	query	int	false	"Maximum results (default 100)"
//	@Param			offset	query	int	false	"Results to skip"
//	@Success		200	{object}	metrics.Summary
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCallFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := metrics.NewQuery(svcctx.LLMCallStoreFrom(r.Context())).Summary(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (e *MetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bookID, jobID string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize call latency, retries and tokens by prompt key and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if bookID != "" {
				params.Set("book_id", bookID)
			}
			if jobID != "" {
				params.Set("job_id", jobID)
			}
			path := "/api/metrics"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}
			return getOutput[metrics.Summary](cmd, getServerURL(), path)
		},
	}
	cmd.Flags().StringVar(&bookID, "book-id", "", "Filter by book ID")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Filter by job ID")
	return cmd
}
