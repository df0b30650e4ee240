package correlate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsignal/gotissues/internal/model"
)

// fullIssueJSON is a complete tracking-API record, including every volatile
// field projection must drop.
const fullIssueJSON = `{
  "url": "https://api.github.com/repos/codeforamerica/gotissues/issues/8",
  "labels_url": "https://api.github.com/repos/codeforamerica/gotissues/issues/8/labels{/name}",
  "comments_url": "https://api.github.com/repos/codeforamerica/gotissues/issues/8/comments",
  "events_url": "https://api.github.com/repos/codeforamerica/gotissues/issues/8/events",
  "html_url": "https://github.com/codeforamerica/gotissues/issues/8",
  "id": 87136867,
  "number": 8,
  "title": "Pull in data from GitHub about the clicked issues",
  "user": {
    "login": "ondrae",
    "id": 595778,
    "avatar_url": "https://avatars.githubusercontent.com/u/595778?v=3",
    "gravatar_id": "",
    "url": "https://api.github.com/users/ondrae",
    "html_url": "https://github.com/ondrae",
    "followers_url": "https://api.github.com/users/ondrae/followers",
    "following_url": "https://api.github.com/users/ondrae/following{/other_user}",
    "gists_url": "https://api.github.com/users/ondrae/gists{/gist_id}",
    "starred_url": "https://api.github.com/users/ondrae/starred{/owner}{/repo}",
    "subscriptions_url": "https://api.github.com/users/ondrae/subscriptions",
    "organizations_url": "https://api.github.com/users/ondrae/orgs",
    "repos_url": "https://api.github.com/users/ondrae/repos",
    "events_url": "https://api.github.com/users/ondrae/events{/privacy}",
    "received_events_url": "https://api.github.com/users/ondrae/received_events",
    "type": "User",
    "site_admin": false
  },
  "labels": [
    {
      "url": "https://api.github.com/repos/codeforamerica/gotissues/labels/enhancement",
      "name": "enhancement",
      "color": "84b6eb"
    }
  ],
  "state": "closed",
  "locked": false,
  "assignee": null,
  "milestone": null,
  "comments": 1,
  "created_at": "2015-06-10T23:03:05Z",
  "updated_at": "2015-06-23T00:43:27Z",
  "closed_at": "2015-06-23T00:43:26Z",
  "body": "TEST BODY",
  "closed_by": {
    "login": "ondrae",
    "id": 595778
  }
}`

// trimmedIssueJSON is the exact persisted shape the full record must reduce
// to once tagged with its click count.
const trimmedIssueJSON = `{
  "html_url": "https://github.com/codeforamerica/gotissues/issues/8",
  "id": 87136867,
  "title": "Pull in data from GitHub about the clicked issues",
  "labels": [
    {
      "url": "https://api.github.com/repos/codeforamerica/gotissues/labels/enhancement",
      "name": "enhancement",
      "color": "84b6eb"
    }
  ],
  "state": "closed",
  "comments": 1,
  "created_at": "2015-06-10T23:03:05Z",
  "closed_at": "2015-06-23T00:43:26Z",
  "body": "TEST BODY",
  "closed_by": {
    "login": "ondrae",
    "id": 595778
  },
  "clicks": 10000000
}`

func TestProjectIssueGoldenRecord(t *testing.T) {
	var raw model.RawIssue
	require.NoError(t, json.Unmarshal([]byte(fullIssueJSON), &raw))

	combined := model.CombinedRecord{
		ProjectedIssue: ProjectIssue(raw),
		Clicks:         10000000,
	}
	got, err := json.Marshal(combined)
	require.NoError(t, err)

	// Byte-for-byte the golden shape: only the schema-mapped fields
	// survive, everything else is absent.
	assert.JSONEq(t, trimmedIssueJSON, string(got))

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(got, &keys))
	for _, dropped := range []string{"labels_url", "events_url", "number", "user", "locked", "assignee", "milestone", "updated_at", "url"} {
		assert.NotContains(t, keys, dropped)
	}
}

func TestProjectIssueDeterministic(t *testing.T) {
	var raw model.RawIssue
	require.NoError(t, json.Unmarshal([]byte(fullIssueJSON), &raw))

	assert.Equal(t, ProjectIssue(raw), ProjectIssue(raw))
}

// rawFromProjected rebuilds a RawIssue carrying only the schema-mapped
// fields; everything projection drops stays at its zero value.
func rawFromProjected(p model.ProjectedIssue) model.RawIssue {
	raw := model.RawIssue{
		HTMLURL:   p.URL,
		ID:        p.ID,
		Title:     p.Title,
		Labels:    p.Labels,
		State:     p.State,
		Comments:  p.Comments,
		CreatedAt: p.CreatedAt,
		ClosedAt:  p.ClosedAt,
		Body:      p.Body,
	}
	if p.ClosedBy != nil {
		raw.ClosedBy = &model.RawUser{Login: p.ClosedBy.Login, ID: p.ClosedBy.ID}
	}
	return raw
}

func TestProjectIssueIdempotent(t *testing.T) {
	var raw model.RawIssue
	require.NoError(t, json.Unmarshal([]byte(fullIssueJSON), &raw))

	once := ProjectIssue(raw)
	again := ProjectIssue(rawFromProjected(once))
	assert.Equal(t, once, again)
}

func TestProjectIssueMissingOptionals(t *testing.T) {
	closed := time.Date(2015, 6, 23, 0, 43, 26, 0, time.UTC)
	raw := model.RawIssue{
		HTMLURL:   "https://github.com/x/y/issues/1",
		ID:        1,
		Title:     "bare",
		State:     model.IssueOpen,
		CreatedAt: closed,
	}

	p := ProjectIssue(raw)
	assert.NotNil(t, p.Labels, "absent labels must become an empty list, not null")
	assert.Empty(t, p.Labels)
	assert.Nil(t, p.ClosedAt)
	assert.Nil(t, p.ClosedBy)
	assert.Equal(t, "", p.Body)
}
