package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Grouped is implemented by endpoints whose command belongs under a
// subcommand group such as "books" or "jobs".
type Grouped interface {
	Group() string
}

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
	groups    []group
}

type group struct {
	name  string
	short string
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterGroup declares a command group. Groups appear in the order they
// are declared; an endpoint naming an undeclared group gets one with no
// description.
func (r *Registry) RegisterGroup(name, short string) {
	r.groups = append(r.groups, group{name: name, short: short})
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns the "api" command tree for all registered endpoints.
// getServerURL is called at runtime to get the server URL.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running guideshelf server via HTTP.

These commands require a running server (guideshelf serve).
Use --server to specify a custom server URL.

Examples:
  guideshelf api health                     # Check server health
  guideshelf api books extract <book-id>    # Start an extraction job
  guideshelf api jobs get <job-id>          # Inspect a job`,
	}

	groupCmds := make(map[string]*cobra.Command)
	groupCmd := func(name, short string) *cobra.Command {
		if c, ok := groupCmds[name]; ok {
			return c
		}
		c := &cobra.Command{Use: name, Short: short}
		groupCmds[name] = c
		apiCmd.AddCommand(c)
		return c
	}
	for _, g := range r.groups {
		groupCmd(g.name, g.short)
	}

	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if cmd == nil {
			continue
		}
		if g, ok := ep.(Grouped); ok && g.Group() != "" {
			groupCmd(g.Group(), "").AddCommand(cmd)
			continue
		}
		apiCmd.AddCommand(cmd)
	}

	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
