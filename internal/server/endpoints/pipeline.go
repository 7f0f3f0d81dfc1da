package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/guideshelf/internal/api"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/publish"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/svcctx"
)

// getOutput fetches path into a T and prints it.
func getOutput[T any](cmd *cobra.Command, serverURL, path string) error {
	client := api.NewClient(serverURL)
	var resp T
	if err := client.Get(cmd.Context(), path, &resp); err != nil {
		return err
	}
	return api.Output(resp)
}

// IndexEndpoint handles GET /api/books/{id}/index.
type IndexEndpoint struct{}

func (e *IndexEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/index", e.handler
}

func (e *IndexEndpoint) RequiresInit() bool { return true }

func (e *IndexEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get topic index
//	@Description	Topics and subtopics with status, page set and version
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	index.BookIndex
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/index [get]
func (e *IndexEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, ok := requireBook(w, r)
	if !ok {
		return
	}
	idx, err := svcctx.IndexFrom(r.Context()).Load(r.Context(), book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (e *IndexEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "index <book-id>",
		Short: "Show the topic/subtopic index of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[index.BookIndex](cmd, getServerURL(), bookPath(args[0], "index"))
		},
	}
}

// AssignmentsResponse lists page assignments in page order.
type AssignmentsResponse struct {
	BookID      string             `json:"book_id"`
	Assignments []index.Assignment `json:"assignments"`
}

// AssignmentsEndpoint handles GET /api/books/{id}/assignments.
type AssignmentsEndpoint struct{}

func (e *AssignmentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/assignments", e.handler
}

func (e *AssignmentsEndpoint) RequiresInit() bool { return true }

func (e *AssignmentsEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get page assignments
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	AssignmentsResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/assignments [get]
func (e *AssignmentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, ok := requireBook(w, r)
	if !ok {
		return
	}
	list, err := svcctx.IndexFrom(r.Context()).PageAssignments(r.Context(), book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []index.Assignment{}
	}
	writeJSON(w, http.StatusOK, AssignmentsResponse{BookID: book.ID, Assignments: list})
}

func (e *AssignmentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "assignments <book-id>",
		Short: "Show which subtopic each page was assigned to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[AssignmentsResponse](cmd, getServerURL(), bookPath(args[0], "assignments"))
		},
	}
}

// ShardEndpoint handles GET /api/books/{id}/shards/{topic}/{subtopic}.
type ShardEndpoint struct{}

func (e *ShardEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/shards/{topic}/{subtopic}", e.handler
}

func (e *ShardEndpoint) RequiresInit() bool { return true }

func (e *ShardEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get a shard
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Param			topic	path	string	true	"Topic key"
//	@Param			subtopic	path	string	true	"Subtopic key"
//	@Success		200	{object}	shards.Shard
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/shards/{topic}/{subtopic} [get]
func (e *ShardEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key := shards.Key{TopicKey: r.PathValue("topic"), SubtopicKey: r.PathValue("subtopic")}
	if err := key.Validate(); err != nil {
		writeServiceError(w, err)
		return
	}
	sh, err := svcctx.ShardsFrom(r.Context()).Get(r.Context(), r.PathValue("id"), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (e *ShardEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "shard <book-id> <topic_key>/<subtopic_key>",
		Short: "Show the guideline shard of one subtopic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := shards.ParseKey(args[1])
			if err != nil {
				return err
			}
			return getOutput[shards.Shard](cmd, getServerURL(),
				bookPath(args[0], "shards", key.TopicKey, key.SubtopicKey))
		},
	}
}

// GuidelinesResponse lists the published rows of a book.
type GuidelinesResponse struct {
	BookID     string              `json:"book_id"`
	Guidelines []publish.Guideline `json:"guidelines"`
}

// GuidelinesEndpoint handles GET /api/books/{id}/guidelines.
type GuidelinesEndpoint struct{}

func (e *GuidelinesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/guidelines", e.handler
}

func (e *GuidelinesEndpoint) RequiresInit() bool { return true }

func (e *GuidelinesEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		List published guidelines
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	GuidelinesResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/guidelines [get]
func (e *GuidelinesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, ok := requireBook(w, r)
	if !ok {
		return
	}
	rows, err := svcctx.GuidelinesFrom(r.Context()).List(r.Context(), book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []publish.Guideline{}
	}
	writeJSON(w, http.StatusOK, GuidelinesResponse{BookID: book.ID, Guidelines: rows})
}

func (e *GuidelinesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "guidelines <book-id>",
		Short: "Show the published guidelines of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[GuidelinesResponse](cmd, getServerURL(), bookPath(args[0], "guidelines"))
		},
	}
}

// SummaryEndpoint handles GET /api/books/{id}/summary.
type SummaryEndpoint struct{}

func (e *SummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/summary", e.handler
}

func (e *SummaryEndpoint) RequiresInit() bool { return true }

func (e *SummaryEndpoint) Group() string { return "books" }

// handler godoc
//
//	@Summary		Get rolling book summary
//	@Tags			books
//	@Produce		json
//	@Param			id	path	string	true	"Book ID"
//	@Success		200	{object}	pipeline.RollingSummary
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/books/{id}/summary [get]
func (e *SummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	book, ok := requireBook(w, r)
	if !ok {
		return
	}
	rs, err := svcctx.SummariesFrom(r.Context()).Rolling(r.Context(), book.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (e *SummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <book-id>",
		Short: "Show the rolling summary of the book so far",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getOutput[pipeline.RollingSummary](cmd, getServerURL(), bookPath(args[0], "summary"))
		},
	}
}
