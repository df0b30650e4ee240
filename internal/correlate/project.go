// Package correlate joins ranked analytics rows with resolved issue
// records and hands the combined records to the store.
package correlate

import "github.com/civicsignal/gotissues/internal/model"

// ProjectionVersion identifies the RawIssue → ProjectedIssue field mapping.
// Bump it when the projected field set changes, so stored rows written
// under different mappings can be told apart.
const ProjectionVersion = 1

// ProjectIssue reduces a full issue record to the stable persisted subset.
// Deterministic and total: every RawIssue field either maps to exactly one
// ProjectedIssue field or is dropped; nothing is invented. Missing optional
// fields become explicit nulls or empty values, never omissions.
func ProjectIssue(raw model.RawIssue) model.ProjectedIssue {
	p := model.ProjectedIssue{
		URL:       raw.HTMLURL,
		ID:        raw.ID,
		Title:     raw.Title,
		Labels:    raw.Labels,
		State:     raw.State,
		Comments:  raw.Comments,
		CreatedAt: raw.CreatedAt,
		ClosedAt:  raw.ClosedAt,
		Body:      raw.Body,
	}
	if p.Labels == nil {
		p.Labels = []model.Label{}
	}
	if raw.ClosedBy != nil {
		// closed_by keeps only {login, id}; the rest of the user object
		// is volatile and dropped.
		p.ClosedBy = &model.Actor{Login: raw.ClosedBy.Login, ID: raw.ClosedBy.ID}
	}
	return p
}
