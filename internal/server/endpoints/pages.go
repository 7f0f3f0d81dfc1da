package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// PutPageRequest carries the text of one page.
type PutPageRequest struct {
	Text string `json:"text"`
}

// pageNum parses the {page} path value.
func pageNum(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page number %q", r.PathValue("page"))
	}
	return n, nil
}

// PutPageEndpoint handles PUT /api/books/{id}/pages/{page}.
type PutPageEndpoint struct{}

func (e *PutPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/books/{id}/pages/{page}", e.handler
}

func (e *PutPageEndpoint) RequiresInit() bool { return true }

func (e *PutPageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary		Store page text
//	@Description	Create or replace the text of a page. Approved pages cannot be changed.
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			page	path	int	true	"Page number"
//	@Param			body	body	PutPageRequest	true	"Page text"
//	@Success		200	{object}	books.Page
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/pages/{page} [put]
func (e *PutPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	num, err := pageNum(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req PutPageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	repo := svcctx.BooksFrom(r.Context())
	id := r.PathValue("id")
	if err := repo.PutPage(r.Context(), id, num, req.Text); err != nil {
		writeServiceError(w, err)
		return
	}
	page, err := repo.GetPage(r.Context(), id, num)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (e *PutPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put <book-id> <page>",
		Short: "Store the text of a page",
		Long: `Store the text of a page. Text is read from --file, or from stdin
when --file is not given. Approved pages cannot be changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				text []byte
				err  error
			)
			if file != "" {
				text, err = os.ReadFile(file)
			} else {
				text, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var page books.Page
			if err := client.Put(cmd.Context(), bookPath(args[0], "pages", args[1]),
				PutPageRequest{Text: string(text)}, &page); err != nil {
				return err
			}
			return api.Output(page)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File holding the page text")
	return cmd
}

// ApprovePageEndpoint handles POST /api/books/{id}/pages/{page}/approve.
type ApprovePageEndpoint struct{}

func (e *ApprovePageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/pages/{page}/approve", e.handler
}

func (e *ApprovePageEndpoint) RequiresInit() bool { return true }

func (e *ApprovePageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary		Approve a page
//	@Description	Mark a page approved for extraction
//	@Tags			pages
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			page	path	int	true	"Page number"
//	@Success		200	{object}	books.Page
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/pages/{page}/approve [post]
func (e *ApprovePageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	num, err := pageNum(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	repo := svcctx.BooksFrom(r.Context())
	id := r.PathValue("id")
	if err := repo.ApprovePage(r.Context(), id, num); err != nil {
		writeServiceError(w, err)
		return
	}
	page, err := repo.GetPage(r.Context(), id, num)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (e *ApprovePageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <book-id> <page>...",
		Short: "Approve pages for extraction",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var errs []error
			for _, p := range args[1:] {
				var page books.Page
				if err := client.Post(cmd.Context(), bookPath(args[0], "pages", p, "approve"), nil, &page); err != nil {
					errs = append(errs, fmt.Errorf("page %s: %w", p, err))
					continue
				}
				fmt.Printf("approved page %d\n", page.PageNum)
			}
			return errors.Join(errs...)
		},
	}
}

// GetPageEndpoint handles GET /api/books/{id}/pages/{page}.
type GetPageEndpoint struct{}

func (e *GetPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/pages/{page}", e.handler
}

func (e *GetPageEndpoint) RequiresInit() bool { return true }

func (e *GetPageEndpoint) Group() string { return "pages" }

// handler godoc
//
//	@Summary		Get a page
//	@Tags			pages
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			page	path	int	true	"Page number"
//	@Success		200	{object}	books.Page
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/pages/{page} [get]
func (e *GetPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	num, err := pageNum(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := svcctx.BooksFrom(r.Context()).GetPage(r.Context(), r.PathValue("id"), num)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (e *GetPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id> <page>",
		Short: "Get a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var page books.Page
			if err := client.Get(cmd.Context(), bookPath(args[0], "pages", args[1]), &page); err != nil {
				return err
			}
			return api.Output(page)
		},
	}
}
