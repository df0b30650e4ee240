package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsignal/gotissues/internal/model"
	"github.com/civicsignal/gotissues/internal/tracker"
)

// fakeResolver serves issues keyed by resource path and can fail selected
// paths. It records every path it saw.
type fakeResolver struct {
	mu      sync.Mutex
	fail    map[string]error
	delay   map[string]time.Duration
	seen    []string
	nextID  int64
	issueID map[string]int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		fail:    map[string]error{},
		delay:   map[string]time.Duration{},
		issueID: map[string]int64{},
		nextID:  1000,
	}
}

func (f *fakeResolver) GetIssue(ctx context.Context, path string) (model.RawIssue, error) {
	f.mu.Lock()
	f.seen = append(f.seen, path)
	err := f.fail[path]
	d := f.delay[path]
	id, ok := f.issueID[path]
	if !ok {
		f.nextID++
		id = f.nextID
		f.issueID[path] = id
	}
	f.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if err != nil {
		return model.RawIssue{}, err
	}
	return model.RawIssue{
		HTMLURL:   tracker.PublicHost + path,
		ID:        id,
		Title:     "issue " + path,
		State:     model.IssueOpen,
		CreatedAt: time.Date(2015, 6, 10, 23, 3, 5, 0, time.UTC),
	}, nil
}

// fakeStore records upserts in call order.
type fakeStore struct {
	mu      sync.Mutex
	records []model.CombinedRecord
	sources []string
	err     error
}

func (f *fakeStore) UpsertIssue(ctx context.Context, rec model.CombinedRecord, source string) (model.StoredIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.StoredIssue{}, f.err
	}
	f.records = append(f.records, rec)
	f.sources = append(f.sources, source)
	return model.StoredIssue{CombinedRecord: rec, Views: 1, ViewSources: []string{source}}, nil
}

func rowsFixture(n int) []model.AnalyticsRow {
	rows := make([]model.AnalyticsRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, model.AnalyticsRow{
			Label:      fmt.Sprintf("https://github.com/codeforamerica/gotissues/issues/%d", i),
			EventCount: int64((n - i + 1) * 10),
		})
	}
	return rows
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRunCorrelatesAllRows(t *testing.T) {
	resolver := newFakeResolver()
	store := &fakeStore{}
	c := New(resolver, store, 4, discardLogger())

	rows := rowsFixture(3)
	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err)

	require.Len(t, res.Pairs, 3)
	assert.Empty(t, res.Failed)
	for i, pair := range res.Pairs {
		assert.Equal(t, rows[i], pair.Row, "output order must follow input rank order")
		assert.Equal(t, rows[i].EventCount, pair.Record.Clicks)
		assert.Equal(t, rows[i].Label, pair.Record.URL)
	}

	// Labels were normalized before resolution.
	for _, p := range resolver.seen {
		assert.False(t, strings.HasPrefix(p, "https://"), "path %q should have been stripped", p)
	}
	// Every upsert was tagged with the caller's source.
	assert.Equal(t, []string{"civicissues", "civicissues", "civicissues"}, store.sources)
}

func TestRunPartialFailure(t *testing.T) {
	resolver := newFakeResolver()
	resolver.fail["codeforamerica/gotissues/issues/3"] = fmt.Errorf("tracker: get: status 404: %w", tracker.ErrResolveFailed)
	store := &fakeStore{}
	c := New(resolver, store, 4, discardLogger())

	rows := rowsFixture(5)
	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err, "a per-row failure must not abort the pass")

	require.Len(t, res.Pairs, 4)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, rows[2].Label, res.Failed[0].Label)
	assert.Contains(t, res.Failed[0].Reason, "404")

	// Survivors keep their original relative order.
	wantOrder := []string{rows[0].Label, rows[1].Label, rows[3].Label, rows[4].Label}
	gotOrder := make([]string, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		gotOrder = append(gotOrder, p.Row.Label)
	}
	assert.Equal(t, wantOrder, gotOrder)
}

func TestRunPreservesOrderUnderConcurrency(t *testing.T) {
	resolver := newFakeResolver()
	rows := rowsFixture(8)
	// Make earlier rows slower so completion order inverts submission order.
	for i, row := range rows {
		resolver.delay[tracker.StripURL(row.Label)] = time.Duration(8-i) * 5 * time.Millisecond
	}
	store := &fakeStore{}
	c := New(resolver, store, 8, discardLogger())

	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 8)
	for i, pair := range res.Pairs {
		assert.Equal(t, rows[i].Label, pair.Row.Label)
	}

	// Writes also follow rank order, not completion order.
	require.Len(t, store.records, 8)
	for i, rec := range store.records {
		assert.Equal(t, rows[i].Label, rec.URL)
	}
}

func TestRunDoesNotDeduplicate(t *testing.T) {
	resolver := newFakeResolver()
	store := &fakeStore{}
	c := New(resolver, store, 2, discardLogger())

	label := "https://github.com/codeforamerica/gotissues/issues/8"
	rows := []model.AnalyticsRow{
		{Label: label, EventCount: 50},
		{Label: label, EventCount: 50},
	}
	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err)

	// Same label twice means two resolutions and two upserts; convergence
	// to one row is the store's job.
	assert.Len(t, res.Pairs, 2)
	assert.Len(t, resolver.seen, 2)
	assert.Len(t, store.records, 2)
}

func TestRunStoreFailureIsPerRow(t *testing.T) {
	resolver := newFakeResolver()
	store := &fakeStore{err: fmt.Errorf("connection refused")}
	c := New(resolver, store, 2, discardLogger())

	rows := rowsFixture(2)
	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	require.Len(t, res.Failed, 2)
	for _, f := range res.Failed {
		assert.Contains(t, f.Reason, "store:")
	}
}

func TestRunEmptyInput(t *testing.T) {
	c := New(newFakeResolver(), &fakeStore{}, 4, discardLogger())
	res, err := c.Run(context.Background(), "civicissues", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Pairs)
	assert.Empty(t, res.Failed)
}

func TestRunClicksTagging(t *testing.T) {
	resolver := newFakeResolver()
	store := &fakeStore{}
	c := New(resolver, store, 1, discardLogger())

	rows := []model.AnalyticsRow{{Label: "https://github.com/a/b/issues/1", EventCount: 10000000}}
	res, err := c.Run(context.Background(), "civicissues", rows)
	require.NoError(t, err)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, int64(10000000), res.Pairs[0].Record.Clicks)
	assert.Equal(t, int64(10000000), store.records[0].Clicks)
}
