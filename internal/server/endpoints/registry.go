package endpoints

import (
	"github.com/jackzampolin/guideshelf/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Book endpoints
		&CreateBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&StagesEndpoint{},

		// Page endpoints
		&PutPageEndpoint{},
		&ApprovePageEndpoint{},
		&GetPageEndpoint{},

		// Job start endpoints
		&ExtractEndpoint{},
		&FinalizeEndpoint{},
		&SyncEndpoint{},
		&LatestJobEndpoint{},

		// Pipeline output endpoints
		&IndexEndpoint{},
		&AssignmentsEndpoint{},
		&ShardEndpoint{},
		&GuidelinesEndpoint{},
		&SummaryEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},
		&MetricsEndpoint{},

		// Prompt endpoints
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},

		&SettingsEndpoint{},

		// OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// Registry returns a registry holding every endpoint, with the command
// groups used by `guideshelf api`.
func Registry() *api.Registry {
	r := api.NewRegistry()
	r.RegisterGroup("books", "Create books and run their pipeline stages")
	r.RegisterGroup("pages", "Write, approve and read book pages")
	r.RegisterGroup("jobs", "Inspect and cancel jobs")
	r.RegisterGroup("llmcalls", "Browse recorded LLM calls")
	r.RegisterGroup("prompts", "Browse prompt templates")
	for _, ep := range All() {
		r.Register(ep)
	}
	return r
}
