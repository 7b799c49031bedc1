package storage

import (
	"context"
	"fmt"
)

// IncrementQueryCount bumps the per-topic search counter by one. The UPSERT
// is atomic per topic key, so concurrent searches never lose increments.
func (db *DB) IncrementQueryCount(ctx context.Context, topic string) error {
	if topic == "" {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO query_log (topic, query_count, updated_at)
		 VALUES ($1, 1, now())
		 ON CONFLICT (topic)
		 DO UPDATE SET query_count = query_log.query_count + 1, updated_at = now()`,
		topic)
	if err != nil {
		return fmt.Errorf("storage: increment query count: %w", err)
	}
	return nil
}

// QueryCounts returns the current per-topic search counters. Only topics
// that have been searched at least once appear.
func (db *DB) QueryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT topic, query_count FROM query_log WHERE query_count > 0`)
	if err != nil {
		return nil, fmt.Errorf("storage: query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("storage: scan query count: %w", err)
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}
