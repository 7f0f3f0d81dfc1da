package pipeline

import "context"

// Phase is one book-level step of the workflow: extraction, finalization
// and sync. Phases report their progress for a book and name the phases
// that must complete first.
type Phase interface {
	Name() string
	Dependencies() []string
	Description() string

	// Status reads the phase's current state for a book.
	Status(ctx context.Context, bookID string) (PhaseStatus, error)
}

// PhaseStatus is implemented by each phase's status type.
type PhaseStatus interface {
	// IsComplete returns whether this phase is done for this book.
	IsComplete() bool

	// Data returns phase-specific structured data.
	Data() any
}
