// Package model defines the core data types shared across the gotissues
// pipeline: analytics rows, raw and projected issue records, and the
// persisted row shape.
package model

import (
	"encoding/json"
	"time"
)

// IssueState is the tracked lifecycle state of an issue.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// Label is one label attached to an issue. The three fields here are the
// only ones persisted; anything else the tracking API adds is dropped.
type Label struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Actor is the minimal {login, id} identity kept for closed_by.
type Actor struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// RawUser is the full user sub-object as returned by the tracking API.
// Only Login and ID survive projection.
type RawUser struct {
	Login             string `json:"login"`
	ID                int64  `json:"id"`
	AvatarURL         string `json:"avatar_url,omitempty"`
	GravatarID        string `json:"gravatar_id,omitempty"`
	URL               string `json:"url,omitempty"`
	HTMLURL           string `json:"html_url,omitempty"`
	FollowersURL      string `json:"followers_url,omitempty"`
	FollowingURL      string `json:"following_url,omitempty"`
	GistsURL          string `json:"gists_url,omitempty"`
	StarredURL        string `json:"starred_url,omitempty"`
	SubscriptionsURL  string `json:"subscriptions_url,omitempty"`
	OrganizationsURL  string `json:"organizations_url,omitempty"`
	ReposURL          string `json:"repos_url,omitempty"`
	EventsURL         string `json:"events_url,omitempty"`
	ReceivedEventsURL string `json:"received_events_url,omitempty"`
	Type              string `json:"type,omitempty"`
	SiteAdmin         bool   `json:"site_admin,omitempty"`
}

// RawIssue is the full issue record returned by the tracking API. It is a
// superset of what gets persisted: transient, owned by the resolver call,
// discarded after projection. Fields with no stable meaning for us
// (assignee, milestone) are kept as raw JSON so schema drift on the API
// side cannot break decoding.
type RawIssue struct {
	URL         string          `json:"url"`
	LabelsURL   string          `json:"labels_url"`
	CommentsURL string          `json:"comments_url"`
	EventsURL   string          `json:"events_url"`
	HTMLURL     string          `json:"html_url"`
	ID          int64           `json:"id"`
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	User        *RawUser        `json:"user"`
	Labels      []Label         `json:"labels"`
	State       IssueState      `json:"state"`
	Locked      bool            `json:"locked"`
	Assignee    json.RawMessage `json:"assignee"`
	Milestone   json.RawMessage `json:"milestone"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at"`
	Body        string          `json:"body"`
	ClosedBy    *RawUser        `json:"closed_by"`
}

// ProjectedIssue is the stable persisted subset of RawIssue. Every field of
// RawIssue either maps to exactly one field here or is dropped; no field is
// invented. Optional fields that are absent upstream are explicit nulls or
// empty values, never omitted.
type ProjectedIssue struct {
	URL       string     `json:"html_url"`
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Labels    []Label    `json:"labels"`
	State     IssueState `json:"state"`
	Comments  int        `json:"comments"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	Body      string     `json:"body"`
	ClosedBy  *Actor     `json:"closed_by"`
}

// CombinedRecord joins a projected issue with the click count observed for
// it in the analytics source. This is the unit of persistence.
type CombinedRecord struct {
	ProjectedIssue
	Clicks int64 `json:"clicks"`
}

// StoredIssue is a CombinedRecord plus the aggregate fields accumulated
// across correlation passes. Views increments on every write for the same
// id; ViewSources is a set (union on write); Clicks is last-write-wins
// because analytics counts are cumulative totals, not deltas.
type StoredIssue struct {
	CombinedRecord
	Views       int64    `json:"views"`
	ViewSources []string `json:"view_sources"`
}
