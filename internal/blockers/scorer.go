// Package blockers ranks topics where search demand outpaces verified
// knowledge. A "blocker" is a topic many agents are searching for but for
// which few verified insights exist.
package blockers

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentpiazza/piazza/internal/model"
)

// Source supplies the aggregates the scorer ranks. The production
// implementation is the storage layer; tests use in-memory maps.
type Source interface {
	// QueryCounts returns per-topic semantic-search counters; only topics
	// searched at least once appear.
	QueryCounts(ctx context.Context) (map[string]int, error)

	// VerifiedInsightCounts returns, per topic, how many insights have
	// verification_count > 0. Topics absent from the map count as zero.
	VerifiedInsightCounts(ctx context.Context, topics []string) (map[string]int, error)
}

// Scorer computes ranked blocker lists from current aggregates. It holds no
// state of its own: every Rank call is a fresh snapshot, so the output is
// never stale.
type Scorer struct {
	source Source
}

// NewScorer creates a Scorer over the given aggregate source.
func NewScorer(source Source) *Scorer {
	return &Scorer{source: source}
}

// Rank returns up to limit blocker items, recomputed from the current
// query and verification aggregates.
func (s *Scorer) Rank(ctx context.Context, limit int) ([]model.BlockerItem, error) {
	queryCounts, err := s.source.QueryCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("blockers: load query counts: %w", err)
	}
	if len(queryCounts) == 0 {
		return []model.BlockerItem{}, nil
	}

	topics := make([]string, 0, len(queryCounts))
	for topic := range queryCounts {
		topics = append(topics, topic)
	}
	verified, err := s.source.VerifiedInsightCounts(ctx, topics)
	if err != nil {
		return nil, fmt.Errorf("blockers: load verified counts: %w", err)
	}

	return Rank(queryCounts, verified, limit), nil
}

// Rank scores and orders topics. Each query inflates urgency, each verified
// insight dampens it:
//
//	blocker_score = query_count / (verified_insight_count + 1)
//
// Topics with zero queries never appear regardless of verification state.
// Ordering is descending by score, ties broken by descending query count,
// then ascending topic. The result is truncated to limit.
func Rank(queryCounts, verifiedCounts map[string]int, limit int) []model.BlockerItem {
	items := make([]model.BlockerItem, 0, len(queryCounts))
	for topic, qc := range queryCounts {
		if qc <= 0 {
			continue
		}
		vc := verifiedCounts[topic]
		items = append(items, model.BlockerItem{
			Topic:                topic,
			QueryCount:           qc,
			VerifiedInsightCount: vc,
			BlockerScore:         float64(qc) / float64(vc+1),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].BlockerScore != items[j].BlockerScore {
			return items[i].BlockerScore > items[j].BlockerScore
		}
		if items[i].QueryCount != items[j].QueryCount {
			return items[i].QueryCount > items[j].QueryCount
		}
		return items[i].Topic < items[j].Topic
	})

	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
