package llmcall

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/guideshelf/internal/providers"
)

// Recorder persists call records. Recording never fails the caller: write
// errors are logged and dropped.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a new LLM call recorder. A nil store disables recording.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record captures an LLM call.
func (r *Recorder) Record(ctx context.Context, result *providers.ChatResult, opts RecordOptions) {
	r.RecordCall(ctx, FromChatResult(result, opts))
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(ctx context.Context, call *Call) {
	if r == nil || r.store == nil || call == nil {
		return
	}

	// Detach from the caller's cancellation so a cancelled job still leaves a trace.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.store.Insert(writeCtx, call); err != nil {
		r.logger.Warn("failed to record LLM call",
			"error", err,
			"prompt_key", call.PromptKey,
			"book_id", call.BookID)
	}
}
