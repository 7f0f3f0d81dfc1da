// Package metrics aggregates recorded LLM calls into usage statistics:
// success rates, retries, latency percentiles and token totals, overall and
// grouped by prompt key or model.
package metrics

import (
	"context"
	"sort"

	"github.com/jackzampolin/guideshelf/internal/llmcall"
)

// Source lists recorded calls.
type Source interface {
	List(ctx context.Context, filter llmcall.QueryFilter) ([]llmcall.Call, error)
}

// Query computes statistics over a Source.
type Query struct {
	src Source
}

// NewQuery creates a new metrics query helper.
func NewQuery(src Source) *Query {
	return &Query{src: src}
}

// Stats summarizes a set of calls. Latencies are in milliseconds.
type Stats struct {
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	// Retries counts attempts beyond the first.
	Retries int `json:"retries"`

	LatencyP50 float64 `json:"latency_p50_ms"`
	LatencyP95 float64 `json:"latency_p95_ms"`
	LatencyP99 float64 `json:"latency_p99_ms"`
	LatencyAvg float64 `json:"latency_avg_ms"`
	LatencyMin float64 `json:"latency_min_ms"`
	LatencyMax float64 `json:"latency_max_ms"`

	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	TotalTokens       int     `json:"total_tokens"`
	AvgInputTokens    float64 `json:"avg_input_tokens"`
	AvgOutputTokens   float64 `json:"avg_output_tokens"`
}

// Summary is the overall Stats plus breakdowns.
type Summary struct {
	Total       Stats            `json:"total"`
	ByPromptKey map[string]Stats `json:"by_prompt_key"`
	ByModel     map[string]Stats `json:"by_model"`
}

// Stats returns statistics for every call matching f. Limit and Offset in
// f are ignored.
func (q *Query) Stats(ctx context.Context, f llmcall.QueryFilter) (*Stats, error) {
	calls, err := q.list(ctx, f)
	if err != nil {
		return nil, err
	}
	s := Compute(calls)
	return &s, nil
}

// Summary returns overall statistics and breakdowns by prompt key and
// model for calls matching f.
func (q *Query) Summary(ctx context.Context, f llmcall.QueryFilter) (*Summary, error) {
	calls, err := q.list(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Total:       Compute(calls),
		ByPromptKey: GroupBy(calls, func(c llmcall.Call) string { return c.PromptKey }),
		ByModel:     GroupBy(calls, func(c llmcall.Call) string { return c.Provider + "/" + c.Model }),
	}, nil
}

func (q *Query) list(ctx context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error) {
	f.Limit, f.Offset = 0, 0
	return q.src.List(ctx, f)
}

// GroupBy computes Stats per key. Calls with an empty key are skipped.
func GroupBy(calls []llmcall.Call, key func(llmcall.Call) string) map[string]Stats {
	groups := make(map[string][]llmcall.Call)
	for _, c := range calls {
		if k := key(c); k != "" {
			groups[k] = append(groups[k], c)
		}
	}
	out := make(map[string]Stats, len(groups))
	for k, g := range groups {
		out[k] = Compute(g)
	}
	return out
}

// Compute summarizes calls.
func Compute(calls []llmcall.Call) Stats {
	stats := Stats{Count: len(calls)}
	if len(calls) == 0 {
		return stats
	}

	var latencies []float64
	for _, c := range calls {
		if c.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		if c.Attempts > 1 {
			stats.Retries += c.Attempts - 1
		}
		stats.TotalInputTokens += c.InputTokens
		stats.TotalOutputTokens += c.OutputTokens
		if c.LatencyMs > 0 {
			latencies = append(latencies, float64(c.LatencyMs))
		}
	}
	stats.TotalTokens = stats.TotalInputTokens + stats.TotalOutputTokens

	count := float64(stats.Count)
	stats.AvgInputTokens = float64(stats.TotalInputTokens) / count
	stats.AvgOutputTokens = float64(stats.TotalOutputTokens) / count

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.LatencyMin = latencies[0]
		stats.LatencyMax = latencies[len(latencies)-1]

		var sum float64
		for _, l := range latencies {
			sum += l
		}
		stats.LatencyAvg = sum / float64(len(latencies))

		stats.LatencyP50 = percentile(latencies, 50)
		stats.LatencyP95 = percentile(latencies, 95)
		stats.LatencyP99 = percentile(latencies, 99)
	}

	return stats
}

// percentile calculates the p-th percentile from a sorted slice of values,
// interpolating between neighbours.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := (p / 100.0) * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
