package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// GetBookResponse is a book plus the state of each pipeline stage.
type GetBookResponse struct {
	*books.Book
	Stages []pipeline.PhaseReport `json:"stages,omitempty"`
}

// GetBookEndpoint handles GET /api/books/{id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}", e.handler
}

func (e *GetBookEndpoint) RequiresInit() bool { return true }

func (e *GetBookEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get book by ID
//	@Description	Get a book with the state of each pipeline stage
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	GetBookResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books/{id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, ok := requireBook(w, r)
	if !ok {
		return
	}

	resp := GetBookResponse{Book: book}
	if coord := svcctx.CoordinatorFrom(r.Context()); coord != nil {
		stages, err := coord.Stages(r.Context(), book.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp.Stages = stages
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Get a book with its stage status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetBookResponse
			if err := client.Get(cmd.Context(), bookPath(args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// StagesResponse lists the pipeline stages of a book in dependency order.
type StagesResponse struct {
	BookID string                 `json:"book_id"`
	Stages []pipeline.PhaseReport `json:"stages"`
}

// StagesEndpoint handles GET /api/books/{id}/stages.
type StagesEndpoint struct{}

func (e *StagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/stages", e.handler
}

func (e *StagesEndpoint) RequiresInit() bool { return true }

func (e *StagesEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get pipeline stages
//	@Description	List extraction, finalization and sync in dependency order with completion and readiness
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	StagesResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/stages [get]
func (e *StagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	coord := svcctx.CoordinatorFrom(r.Context())
	id := r.PathValue("id")
	stages, err := coord.Stages(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StagesResponse{BookID: id, Stages: stages})
}

func (e *StagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stages <book-id>",
		Short: "Show which pipeline stages are complete and ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StagesResponse
			if err := client.Get(cmd.Context(), bookPath(args[0], "stages"), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
