package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/jackzampolin/guideshelf/internal/books"
	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/pipeline"
)

// Phase names, one per job type.
const (
	PhaseExtraction   = string(TypeExtraction)
	PhaseFinalization = string(TypeFinalization)
	PhaseSync         = string(TypeSync)
)

// phaseStatus is the PhaseStatus shared by all three phases.
type phaseStatus struct {
	complete bool
	data     map[string]any
}

func (s *phaseStatus) IsComplete() bool { return s.complete }
func (s *phaseStatus) Data() any        { return s.data }

// extractionPhase is complete when every approved page is accounted for:
// assigned to a subtopic, or recorded as a page failure by a completed
// extraction job.
type extractionPhase struct {
	books *books.Repo
	index *index.Manager
	store *Store
}

func (p *extractionPhase) Name() string           { return PhaseExtraction }
func (p *extractionPhase) Dependencies() []string { return nil }
func (p *extractionPhase) Description() string {
	return "Segment approved pages into topic and subtopic shards"
}

func (p *extractionPhase) Status(ctx context.Context, bookID string) (pipeline.PhaseStatus, error) {
	approved, err := p.books.ApprovedPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	pi, err := p.index.LoadPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	done, err := p.store.List(ctx, ListFilter{BookID: bookID, Type: TypeExtraction, Status: StatusCompleted})
	if err != nil {
		return nil, err
	}
	failed := make(map[int]bool)
	for _, rec := range done {
		for _, f := range rec.PageFailures {
			failed[f.Page] = true
		}
	}

	var assigned, failedPages, missing int
	for _, page := range approved {
		switch {
		case hasAssignment(pi, page):
			assigned++
		case failed[page]:
			failedPages++
		default:
			missing++
		}
	}
	return &phaseStatus{
		complete: len(approved) > 0 && missing == 0,
		data: map[string]any{
			"approved": len(approved),
			"assigned": assigned,
			"failed":   failedPages,
			"missing":  missing,
		},
	}, nil
}

func hasAssignment(pi *index.PageIndex, page int) bool {
	_, ok := pi.Pages[page]
	return ok
}

// finalizationPhase is complete when no subtopic is left open or stable.
type finalizationPhase struct {
	index *index.Manager
}

func (p *finalizationPhase) Name() string           { return PhaseFinalization }
func (p *finalizationPhase) Dependencies() []string { return []string{PhaseExtraction} }
func (p *finalizationPhase) Description() string {
	return "Promote, rename and deduplicate subtopics"
}

func (p *finalizationPhase) Status(ctx context.Context, bookID string) (pipeline.PhaseStatus, error) {
	idx, err := p.index.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]any)
	total := 0
	for _, st := range []index.Status{index.StatusOpen, index.StatusStable, index.StatusFinal, index.StatusNeedsReview} {
		n := len(idx.WithStatus(st))
		counts[string(st)] = n
		total += n
	}
	pending := len(idx.WithStatus(index.StatusOpen, index.StatusStable))
	return &phaseStatus{complete: total > 0 && pending == 0, data: counts}, nil
}

// syncPhase is complete when the last completed sync ran after the index
// last changed.
type syncPhase struct {
	index *index.Manager
	store *Store
}

func (p *syncPhase) Name() string           { return PhaseSync }
func (p *syncPhase) Dependencies() []string { return []string{PhaseFinalization} }
func (p *syncPhase) Description() string {
	return "Publish final subtopics to the guidelines table"
}

func (p *syncPhase) Status(ctx context.Context, bookID string) (pipeline.PhaseStatus, error) {
	last, err := p.store.List(ctx, ListFilter{BookID: bookID, Type: TypeSync, Status: StatusCompleted, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(last) == 0 || last[0].FinishedAt == nil {
		return &phaseStatus{data: map[string]any{}}, nil
	}
	idx, err := p.index.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	syncedAt := *last[0].FinishedAt
	return &phaseStatus{
		complete: !syncedAt.Before(idx.UpdatedAt),
		data: map[string]any{
			"job_id":    last[0].ID,
			"synced_at": syncedAt.Format(time.RFC3339),
		},
	}, nil
}

func newRegistry(b *books.Repo, mgr *index.Manager, store *Store) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	for _, p := range []pipeline.Phase{
		&extractionPhase{books: b, index: mgr, store: store},
		&finalizationPhase{index: mgr},
		&syncPhase{index: mgr, store: store},
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid phase graph"), err)
	}
	return reg, nil
}
