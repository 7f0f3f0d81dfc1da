package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/jobs"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// ExtractRequest selects the pages to extract. Zero bounds mean the
// book's approved range.
type ExtractRequest struct {
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`
}

// ExtractEndpoint handles POST /api/books/{id}/extract.
type ExtractEndpoint struct{}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

func (e *ExtractEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Start extraction
//	@Description	Process approved pages in order. A failed run over the same range resumes from its checkpoint.
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			request	body	ExtractRequest	false	"Optional page range"
//	@Success		202	{object}	jobs.Record
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id}/extract [post]
func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	startJob(w, r, func(ctx context.Context, c *jobs.Coordinator, bookID string) (*jobs.Record, error) {
		return c.StartExtraction(ctx, bookID, req.Start, req.End)
	})
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req  ExtractRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "extract <book-id>",
		Short: "Start an extraction job",
		Long: `Start extracting topics and subtopics from approved pages.

Without --start/--end the whole approved range is processed. A book whose
last extraction stopped part way resumes after its checkpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, getServerURL(), bookPath(args[0], "extract"), req, wait)
		},
	}
	cmd.Flags().IntVar(&req.Start, "start", 0, "First page (default: first approved page)")
	cmd.Flags().IntVar(&req.End, "end", 0, "Last page (default: last approved page)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

// FinalizeEndpoint handles POST /api/books/{id}/finalize.
type FinalizeEndpoint struct{}

func (e *FinalizeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/finalize", e.handler
}

func (e *FinalizeEndpoint) RequiresInit() bool { return true }

func (e *FinalizeEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Start finalization
//	@Description	Consolidate subtopics once extraction is complete
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		202	{object}	jobs.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id}/finalize [post]
func (e *FinalizeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	startJob(w, r, func(ctx context.Context, c *jobs.Coordinator, bookID string) (*jobs.Record, error) {
		return c.Finalize(ctx, bookID)
	})
}

func (e *FinalizeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "finalize <book-id>",
		Short: "Start consolidation of extracted subtopics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, getServerURL(), bookPath(args[0], "finalize"), nil, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

// SyncEndpoint handles POST /api/books/{id}/sync.
type SyncEndpoint struct{}

func (e *SyncEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/sync", e.handler
}

func (e *SyncEndpoint) RequiresInit() bool { return true }

func (e *SyncEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Start sync
//	@Description	Publish the final subtopics of a finalized book
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		202	{object}	jobs.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id}/sync [post]
func (e *SyncEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	startJob(w, r, func(ctx context.Context, c *jobs.Coordinator, bookID string) (*jobs.Record, error) {
		return c.Sync(ctx, bookID)
	})
}

func (e *SyncEndpoint) Command(getServerURL func() string) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "sync <book-id>",
		Short: "Publish final guidelines to the guidelines table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, getServerURL(), bookPath(args[0], "sync"), nil, wait)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

// startJob runs fn and answers 202 with the new job, or the mapped error
// (409 when a job of the same class is running or a stage is blocked).
func startJob(w http.ResponseWriter, r *http.Request, fn func(context.Context, *jobs.Coordinator, string) (*jobs.Record, error)) {
	coord := svcctx.CoordinatorFrom(r.Context())
	bookID := r.PathValue("id")

	rec, err := fn(r.Context(), coord, bookID)
	if err != nil {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Info("job start rejected", "book_id", bookID, "path", r.URL.Path, "error", err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// runStart posts a start request and optionally polls the job until it
// reaches a terminal status.
func runStart(cmd *cobra.Command, serverURL, path string, body any, wait bool) error {
	ctx := cmd.Context()
	client := api.NewClient(serverURL)
	var rec jobs.Record
	if err := client.Post(ctx, path, body, &rec); err != nil {
		return err
	}
	if !wait {
		return api.Output(rec)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !rec.Status.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := client.Get(ctx, "/api/jobs/"+rec.ID, &rec); err != nil {
			return err
		}
	}
	if err := api.Output(rec); err != nil {
		return err
	}
	if rec.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed (%s): %s", rec.ID, rec.Reason, rec.Error)
	}
	return nil
}
