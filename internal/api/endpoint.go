package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the route needs the database and the
	// job coordinator to be up.
	RequiresInit() bool

	// Command returns a cobra command that calls this endpoint over HTTP.
	// getServerURL is evaluated when the command runs, after flags parse.
	Command(getServerURL func() string) *cobra.Command
}
