package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civicsignal/gotissues/internal/model"
)

const storedIssueColumns = `id, html_url, title, labels, state, comments, created_at, closed_at, body, closed_by, clicks, views, view_sources`

// UpsertIssue persists one combined record, keyed by issue id. First write
// for an id inserts the row with views = 1 and view_sources = {source};
// later writes overwrite clicks (analytics counts are cumulative totals),
// increment views, and union source into view_sources.
//
// The whole merge is a single statement, so concurrent passes touching the
// same id serialize on the row and cannot lose an update.
func (db *DB) UpsertIssue(ctx context.Context, rec model.CombinedRecord, source string) (model.StoredIssue, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return model.StoredIssue{}, fmt.Errorf("storage: marshal labels: %w", err)
	}
	var closedBy []byte
	if rec.ClosedBy != nil {
		if closedBy, err = json.Marshal(rec.ClosedBy); err != nil {
			return model.StoredIssue{}, fmt.Errorf("storage: marshal closed_by: %w", err)
		}
	}

	row := db.pool.QueryRow(ctx, `
		INSERT INTO issues (id, html_url, title, labels, state, comments, created_at, closed_at, body, closed_by, clicks, views, view_sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, ARRAY[$12::text])
		ON CONFLICT (id) DO UPDATE SET
			html_url     = EXCLUDED.html_url,
			title        = EXCLUDED.title,
			labels       = EXCLUDED.labels,
			state        = EXCLUDED.state,
			comments     = EXCLUDED.comments,
			created_at   = EXCLUDED.created_at,
			closed_at    = EXCLUDED.closed_at,
			body         = EXCLUDED.body,
			closed_by    = EXCLUDED.closed_by,
			clicks       = EXCLUDED.clicks,
			views        = issues.views + 1,
			view_sources = CASE
				WHEN $12 = ANY (issues.view_sources) THEN issues.view_sources
				ELSE array_append(issues.view_sources, $12)
			END
		RETURNING `+storedIssueColumns,
		rec.ID, rec.URL, rec.Title, labels, string(rec.State), rec.Comments,
		rec.CreatedAt, rec.ClosedAt, rec.Body, closedBy, rec.Clicks, source,
	)

	stored, err := scanStoredIssue(row)
	if err != nil {
		return model.StoredIssue{}, fmt.Errorf("storage: upsert issue %d: %w", rec.ID, err)
	}
	return stored, nil
}

// GetIssue fetches one stored row by issue id.
func (db *DB) GetIssue(ctx context.Context, id int64) (model.StoredIssue, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+storedIssueColumns+` FROM issues WHERE id = $1`, id)
	stored, err := scanStoredIssue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StoredIssue{}, ErrNotFound
	}
	if err != nil {
		return model.StoredIssue{}, fmt.Errorf("storage: get issue %d: %w", id, err)
	}
	return stored, nil
}

// ListIssues returns every stored row, most-clicked first, for reporting.
func (db *DB) ListIssues(ctx context.Context) ([]model.StoredIssue, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+storedIssueColumns+` FROM issues ORDER BY clicks DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list issues: %w", err)
	}
	defer rows.Close()

	var out []model.StoredIssue
	for rows.Next() {
		stored, err := scanStoredIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan issue: %w", err)
		}
		out = append(out, stored)
	}
	return out, rows.Err()
}

func scanStoredIssue(row pgx.Row) (model.StoredIssue, error) {
	var (
		s        model.StoredIssue
		state    string
		labels   []byte
		closedBy []byte
	)
	err := row.Scan(&s.ID, &s.URL, &s.Title, &labels, &state, &s.Comments,
		&s.CreatedAt, &s.ClosedAt, &s.Body, &closedBy, &s.Clicks, &s.Views, &s.ViewSources)
	if err != nil {
		return model.StoredIssue{}, err
	}
	s.State = model.IssueState(state)
	if err := json.Unmarshal(labels, &s.Labels); err != nil {
		return model.StoredIssue{}, fmt.Errorf("unmarshal labels: %w", err)
	}
	if len(closedBy) > 0 {
		s.ClosedBy = &model.Actor{}
		if err := json.Unmarshal(closedBy, s.ClosedBy); err != nil {
			return model.StoredIssue{}, fmt.Errorf("unmarshal closed_by: %w", err)
		}
	}
	return s, nil
}
