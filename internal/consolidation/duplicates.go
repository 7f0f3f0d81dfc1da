package consolidation

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/guideshelf/internal/index"
	"github.com/jackzampolin/guideshelf/internal/llm"
	"github.com/jackzampolin/guideshelf/internal/prompts/finalize"
	"github.com/jackzampolin/guideshelf/internal/shards"
	"github.com/jackzampolin/guideshelf/internal/textutil"
)

type duplicate struct {
	a, b shards.Key
}

type checkVerdict struct {
	Duplicate  bool    `json:"duplicate"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// detect finds duplicate pairs among final subtopics. Pairs judged by an
// earlier run are skipped. Summaries filter candidates two ways, by word
// overlap and by a screening prompt; only candidates get the full content
// check. Ambiguous verdicts send both subtopics to needs_review. When the
// screen fails, pairs it could have flagged are left unjudged.
func (s *Service) detect(ctx context.Context, logger *slog.Logger, bookID string, marker *Marker, report *Report) ([]duplicate, error) {
	idx, err := s.index.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	refs := idx.WithStatus(index.StatusFinal)
	if len(refs) < 2 {
		return nil, nil
	}

	pos := make(map[shards.Key]int, len(refs))
	words := make([]map[string]struct{}, len(refs))
	for i, r := range refs {
		pos[r.Key()] = i
		words[i] = textutil.ContentWords(r.Subtopic.Summary)
	}

	var unjudged [][2]int
	flagged := make(map[string]bool)
	for i := range refs {
		for j := i + 1; j < len(refs); j++ {
			if _, ok := marker.verdict(refs[i].Key(), refs[j].Key()); ok {
				continue
			}
			unjudged = append(unjudged, [2]int{i, j})
			if textutil.Jaccard(words[i], words[j]) >= s.similarity {
				flagged[PairKey(refs[i].Key(), refs[j].Key())] = true
			}
		}
	}
	if len(unjudged) == 0 {
		return nil, nil
	}

	screened, err := s.screen(ctx, refs)
	screenFailed := err != nil
	if screenFailed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("duplicate screening failed, using word overlap only", "error", err)
		report.Warnings = append(report.Warnings, "duplicate screening: "+err.Error())
	}
	for _, p := range screened {
		a, errA := shards.ParseKey(p.A)
		b, errB := shards.ParseKey(p.B)
		if errA != nil || errB != nil || a == b {
			continue
		}
		if _, ok := pos[a]; !ok {
			continue
		}
		if _, ok := pos[b]; !ok {
			continue
		}
		flagged[PairKey(a, b)] = true
	}

	var candidates [][2]int
	for _, p := range unjudged {
		a, b := refs[p[0]].Key(), refs[p[1]].Key()
		if !flagged[PairKey(a, b)] {
			// Without a screen the pair stays unjudged for the next run.
			if !screenFailed {
				marker.setVerdict(a, b, VerdictNotCandidate)
			}
			continue
		}
		candidates = append(candidates, p)
		report.Candidates = append(report.Candidates, Pair{A: a.String(), B: b.String()})
	}

	verdicts := make([]checkVerdict, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			v, err := s.check(gctx, bookID, refs[c[0]].Key(), refs[c[1]].Key())
			if err != nil {
				return err
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	review := make(map[shards.Key]bool)
	var dups []duplicate
	for i, c := range candidates {
		a, b := refs[c[0]].Key(), refs[c[1]].Key()
		v := verdicts[i]
		switch {
		case !v.Duplicate:
			marker.setVerdict(a, b, VerdictDistinct)
		case v.Confidence < s.minConfidence:
			marker.setVerdict(a, b, VerdictAmbiguous)
			review[a], review[b] = true, true
			logger.Info("ambiguous duplicate sent to review",
				"a", a.String(), "b", b.String(), "confidence", v.Confidence, "reason", v.Reason)
		default:
			dups = append(dups, duplicate{a: a, b: b})
		}
	}

	if len(review) > 0 {
		_, err := s.index.Update(ctx, bookID, func(idx *index.BookIndex) error {
			for _, ref := range idx.WithStatus(index.StatusFinal) {
				if review[ref.Key()] {
					if err := idx.SetStatus(ref.Key(), index.StatusNeedsReview); err != nil {
						return err
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if review[ref.Key()] {
				report.NeedsReview = append(report.NeedsReview, ref.Key().String())
			}
		}
	}

	// A subtopic under review is not merged automatically.
	kept := dups[:0]
	for _, d := range dups {
		if !review[d.a] && !review[d.b] {
			kept = append(kept, d)
		}
	}

	if err := s.saveMarker(ctx, marker); err != nil {
		return nil, err
	}
	return kept, nil
}

type screenResponse struct {
	Pairs []Pair `json:"pairs"`
}

func (s *Service) screen(ctx context.Context, refs []index.Ref) ([]Pair, error) {
	subs := make([]finalize.Subtopic, 0, len(refs))
	for _, r := range refs {
		subs = append(subs, toPromptSubtopic(r))
	}
	user, err := finalize.ScreenUserPrompt(finalize.ScreenInput{Subtopics: subs})
	if err != nil {
		return nil, err
	}
	var resp screenResponse
	err = s.gen.Generate(ctx, llm.Request{
		PromptKey: finalize.DuplicateScreenKey,
		System:    finalize.ScreenSystemPrompt(),
		User:      user,
		Schema:    finalize.ScreenSchema,
	}, &resp)
	return resp.Pairs, err
}

func (s *Service) check(ctx context.Context, bookID string, a, b shards.Key) (checkVerdict, error) {
	sa, err := s.shards.Get(ctx, bookID, a)
	if err != nil {
		return checkVerdict{}, err
	}
	sb, err := s.shards.Get(ctx, bookID, b)
	if err != nil {
		return checkVerdict{}, err
	}
	user, err := finalize.CheckUserPrompt(finalize.CheckInput{
		A: finalize.CheckSide{ID: a.String(), Title: sa.SubtopicTitle, Content: sa.Content},
		B: finalize.CheckSide{ID: b.String(), Title: sb.SubtopicTitle, Content: sb.Content},
	})
	if err != nil {
		return checkVerdict{}, err
	}
	var v checkVerdict
	err = s.gen.Generate(ctx, llm.Request{
		PromptKey: finalize.DuplicateCheckKey,
		System:    finalize.CheckSystemPrompt(),
		User:      user,
		Schema:    finalize.CheckSchema,
	}, &v)
	return v, err
}
