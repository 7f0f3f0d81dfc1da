// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/config"
	"github.com/jackzampolin/guideshelf/internal/home"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/jobs"
	"github.com/jackzampolin/guideshelf/internal/llmcall"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
	"github.com/jackzampolin/guideshelf/internal/prompts"
	"github.com/jackzampolin/guideshelf/internal/providers"
	"github.com/jackzampolin/guideshelf/internal/publish"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	DB           *sql.DB
	Books        *books.Repo
	Shards       *shards.Store
	Index        *index.Manager
	Summaries    *pipeline.SummaryStore
	Coordinator  *jobs.Coordinator
	Guidelines   *publish.Service
	Registry     *providers.Registry
	Prompts      *prompts.Catalog
	LLMCallStore *llmcall.Store
	Config       *config.Manager
	Logger       *slog.Logger
	Home         *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// DBFrom extracts the database handle from context.
func DBFrom(ctx context.Context) *sql.DB {
	if s := ServicesFrom(ctx); s != nil {
		return s.DB
	}
	return nil
}

// BooksFrom extracts the book repository from context.
func BooksFrom(ctx context.Context) *books.Repo {
	if s := ServicesFrom(ctx); s != nil {
		return s.Books
	}
	return nil
}

// ShardsFrom extracts the shard store from context.
func ShardsFrom(ctx context.Context) *shards.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Shards
	}
	return nil
}

// IndexFrom extracts the index manager from context.
func IndexFrom(ctx context.Context) *index.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Index
	}
	return nil
}

// SummariesFrom extracts the page summary store from context.
func SummariesFrom(ctx context.Context) *pipeline.SummaryStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Summaries
	}
	return nil
}

// CoordinatorFrom extracts the job coordinator from context.
func CoordinatorFrom(ctx context.Context) *jobs.Coordinator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Coordinator
	}
	return nil
}

// GuidelinesFrom extracts the guideline sync service from context.
func GuidelinesFrom(ctx context.Context) *publish.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Guidelines
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// PromptsFrom extracts the prompt catalog from context.
func PromptsFrom(ctx context.Context) *prompts.Catalog {
	if s := ServicesFrom(ctx); s != nil {
		return s.Prompts
	}
	return nil
}

// LLMCallStoreFrom extracts the LLM call store from context.
func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMCallStore
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
