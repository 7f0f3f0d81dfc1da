package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/guideshelf/internal/blob"
	"github.com/jackzampolin/guideshelf/internal/shards"
)

// Verdict records what finalization concluded about a subtopic pair.
type Verdict string

const (
	// VerdictNotCandidate means neither filter flagged the pair.
	VerdictNotCandidate Verdict = "not_candidate"
	VerdictDistinct     Verdict = "distinct"
	VerdictAmbiguous    Verdict = "ambiguous"
	VerdictMerged       Verdict = "merged"
)

// Marker is the persisted memory of earlier finalization runs. It is what
// makes a repeated finalize a no-op.
type Marker struct {
	BookID  string             `json:"book_id"`
	Renamed []string           `json:"renamed"`
	Pairs   map[string]Verdict `json:"pairs"`
	// Pending is a merge whose survivor may already be written.
	Pending   *PendingMerge `json:"pending,omitempty"`
	Runs      int           `json:"runs"`
	UpdatedAt time.Time     `json:"updated_at"`

	renamed map[string]bool
}

// PendingMerge lets an interrupted merge resume without merging content twice.
type PendingMerge struct {
	Survivor    shards.Key `json:"survivor"`
	Removed     shards.Key `json:"removed"`
	BaseVersion int        `json:"base_version"`
}

// MarkerKey is the blob key of a book's finalization marker.
func MarkerKey(bookID string) string {
	return fmt.Sprintf("books/%s/finalization.json", bookID)
}

// PairKey is the order-independent key of a subtopic pair.
func PairKey(a, b shards.Key) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + "|" + y
}

func (m *Marker) wasRenamed(k shards.Key) bool {
	return m.renamed[k.String()]
}

func (m *Marker) markRenamed(k shards.Key) {
	if m.renamed[k.String()] {
		return
	}
	m.renamed[k.String()] = true
	m.Renamed = append(m.Renamed, k.String())
	sort.Strings(m.Renamed)
}

func (m *Marker) verdict(a, b shards.Key) (Verdict, bool) {
	v, ok := m.Pairs[PairKey(a, b)]
	return v, ok
}

func (m *Marker) setVerdict(a, b shards.Key, v Verdict) {
	m.Pairs[PairKey(a, b)] = v
}

func (s *Service) loadMarker(ctx context.Context, bookID string) (*Marker, error) {
	m := &Marker{BookID: bookID, Pairs: make(map[string]Verdict), renamed: make(map[string]bool)}
	data, err := s.blobs.Get(ctx, MarkerKey(bookID))
	if errors.Is(err, blob.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode finalization marker: %w", err)
	}
	if m.Pairs == nil {
		m.Pairs = make(map[string]Verdict)
	}
	m.renamed = make(map[string]bool, len(m.Renamed))
	for _, k := range m.Renamed {
		m.renamed[k] = true
	}
	return m, nil
}

func (s *Service) saveMarker(ctx context.Context, m *Marker) error {
	m.UpdatedAt = s.now()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, MarkerKey(m.BookID), data)
}
