package usage

import (
	"context"
	"fmt"
	"time"
)

// PathSummary aggregates attempts for one method and path.
type PathSummary struct {
	Method       string
	Path         string
	Requests     int64
	Attempts     int64
	Failures     int64
	AvgLatencyMS float64
	ErrorKinds   map[string]int64
}

// Summarize aggregates attempts recorded at or after since, ordered by
// attempt count descending.
func (p *Persister) Summarize(ctx context.Context, since time.Time) ([]PathSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
		SELECT method, path,
			COUNT(DISTINCT request_id),
			COUNT(*),
			SUM(CASE WHEN error_kind != '' THEN 1 ELSE 0 END),
			AVG(latency_ms)
		FROM attempt_records
		WHERE requested_at >= ?
		GROUP BY method, path
		ORDER BY COUNT(*) DESC, method, path
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []PathSummary
	index := make(map[string]int)
	for rows.Next() {
		var s PathSummary
		if err := rows.Scan(&s.Method, &s.Path, &s.Requests, &s.Attempts, &s.Failures, &s.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.ErrorKinds = make(map[string]int64)
		index[s.Method+" "+s.Path] = len(out)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	kinds, err := p.db.QueryContext(ctx, `
		SELECT method, path, error_kind, COUNT(*)
		FROM attempt_records
		WHERE requested_at >= ? AND error_kind != ''
		GROUP BY method, path, error_kind
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query error kinds: %w", err)
	}
	defer kinds.Close()
	for kinds.Next() {
		var method, path, kind string
		var n int64
		if err := kinds.Scan(&method, &path, &kind, &n); err != nil {
			return nil, fmt.Errorf("scan error kinds: %w", err)
		}
		if i, ok := index[method+" "+path]; ok {
			out[i].ErrorKinds[kind] = n
		}
	}
	return out, kinds.Err()
}
