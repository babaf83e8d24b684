package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anchor-delivery/internal/calendar"
)

// PageHit is one result of the admin page picker search.
type PageHit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// SearchPages matches page titles case-insensitively. An empty query returns
// no hits.
func (s *Store) SearchPages(ctx context.Context, q string, limit int) ([]PageHit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, type FROM pages
		WHERE title ILIKE '%' || $1 || '%'
		ORDER BY title, id
		LIMIT $2`, escapeLike(q), limit)
	if err != nil {
		return nil, fmt.Errorf("search pages: %w", err)
	}
	defer rows.Close()

	var out []PageHit
	for rows.Next() {
		var h PageHit
		if err := rows.Scan(&h.ID, &h.Title, &h.Type); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListEvents groups the scheduled events of a month by date (YYYY-MM-DD).
func (s *Store) ListEvents(ctx context.Context, year int, month time.Month) (map[string][]string, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_date FROM scheduled_events
		WHERE event_date >= $1 AND event_date < $2
		ORDER BY event_date, created_at, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var (
			id string
			on time.Time
		)
		if err := rows.Scan(&id, &on); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		key := on.Format(calendar.DateLayout)
		out[key] = append(out[key], id)
	}
	return out, rows.Err()
}
