package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/jobs"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// LatestJobEndpoint handles GET /api/books/{id}/jobs/{type}.
type LatestJobEndpoint struct{}

func (e *LatestJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/jobs/{type}", e.handler
}

func (e *LatestJobEndpoint) RequiresInit() bool { return true }

func (e *LatestJobEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get latest job of a type
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			type	path	string	true	"Job type: extraction, finalization or sync"
//	@Success		200	{object}	jobs.Record
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/jobs/{type} [get]
func (e *LatestJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	t, err := jobs.ParseType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := svcctx.CoordinatorFrom(r.Context()).Latest(r.Context(), r.PathValue("id"), t)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *LatestJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <book-id> <extraction|finalization|sync>",
		Short: "Get the latest job of a type for a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var rec jobs.Record
			if err := client.Get(cmd.Context(), bookPath(args[0], "jobs", args[1]), &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

func (e *CancelJobEndpoint) Group() string { return "jobs" }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Request cancellation. The job stops after its current page.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path	string	true	"Job ID"
//	@Success		202	{object}	jobs.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/cancel [post]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, err := svcctx.CoordinatorFrom(r.Context()).Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Ask a running job to stop after its current page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var rec jobs.Record
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}
