package endpoints

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// CreateBookEndpoint handles POST /api/books.
type CreateBookEndpoint struct{}

func (e *CreateBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books", e.handler
}

func (e *CreateBookEndpoint) RequiresInit() bool { return true }

func (e *CreateBookEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Create a book
//	@Tags			books
//	@Accept			json
//	@Produce		json
//	@Param			body	body	books.NewBook	true	"Book metadata"
//	@Success		201	{object}	books.Book
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/books [post]
func (e *CreateBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	repo := svcctx.BooksFrom(r.Context())
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, "book repository not initialized")
		return
	}

	var req books.NewBook
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	book, err := repo.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (e *CreateBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req books.NewBook
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Title = args[0]
			client := api.NewClient(getServerURL())
			var book books.Book
			if err := client.Post(cmd.Context(), "/api/books", req, &book); err != nil {
				return err
			}
			return api.Output(book)
		},
	}
	cmd.Flags().StringVar(&req.Grade, "grade", "", "Grade level, e.g. 7")
	cmd.Flags().StringVar(&req.Subject, "subject", "", "Subject, e.g. science")
	cmd.Flags().StringVar(&req.Board, "board", "", "Curriculum board")
	cmd.Flags().StringSliceVar(&req.TOCHints, "toc-hint", nil, "Table of contents entry (repeatable)")
	return cmd
}

// bookPath builds /api/books/{id} plus optional suffix segments.
func bookPath(id string, parts ...string) string {
	p := "/api/books/" + id
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// requireBook loads the book named by the {id} path value, writing the
// error response itself when it cannot.
func requireBook(w http.ResponseWriter, r *http.Request) (*books.Book, bool) {
	repo := svcctx.BooksFrom(r.Context())
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, "book repository not initialized")
		return nil, false
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return nil, false
	}
	book, err := repo.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return book, true
}
