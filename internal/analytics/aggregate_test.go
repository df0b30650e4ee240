package analytics

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicsignal/gotissues/internal/model"
)

// fakeQuerier returns canned rows and records the params it was called with.
type fakeQuerier struct {
	rows   [][]string
	err    error
	params []QueryParams
}

func (f *fakeQuerier) Query(_ context.Context, p QueryParams) ([][]string, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func newTestAggregator(src Querier) *Aggregator {
	a := NewAggregator(AggregatorConfig{
		Source:        src,
		StartDate:     "2014-08-24",
		EventCategory: "Civic Issues",
		PagePath:      "civicissues",
		RankLimit:     5,
		Logger:        slog.New(slog.DiscardHandler),
	})
	a.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestClicksPerView(t *testing.T) {
	a := newTestAggregator(&fakeQuerier{})

	pct, err := a.ClicksPerView(250, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(25), pct)

	// Truncation, not rounding.
	pct, err = a.ClicksPerView(2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(66), pct)
}

func TestClicksPerViewZeroDenominator(t *testing.T) {
	a := newTestAggregator(&fakeQuerier{})
	_, err := a.ClicksPerView(250, 0)
	assert.ErrorIs(t, err, ErrNoPageViews)
}

func TestTotalClicks(t *testing.T) {
	src := &fakeQuerier{rows: [][]string{{"1234"}}}
	a := newTestAggregator(src)

	total, err := a.TotalClicks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), total)

	require.Len(t, src.params, 1)
	p := src.params[0]
	assert.Equal(t, "ga:totalEvents", p.Metrics)
	assert.Equal(t, "ga:eventCategory=@Civic Issues", p.Filters)
	assert.Equal(t, "2014-08-24", p.StartDate)
	assert.Equal(t, "2026-09-01", p.EndDate)
}

func TestTotalClicksEmptyWindow(t *testing.T) {
	a := newTestAggregator(&fakeQuerier{rows: nil})
	total, err := a.TotalClicks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestTopClickedPreservesSourceOrder(t *testing.T) {
	// Ties on the count keep exactly the order the source returned.
	src := &fakeQuerier{rows: [][]string{
		{"https://github.com/a/b/issues/1", "50"},
		{"https://github.com/a/b/issues/2", "20"},
		{"https://github.com/a/b/issues/3", "20"},
		{"https://github.com/a/b/issues/4", "5"},
	}}
	a := newTestAggregator(src)

	rows, err := a.TopClicked(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []model.AnalyticsRow{
		{Label: "https://github.com/a/b/issues/1", EventCount: 50},
		{Label: "https://github.com/a/b/issues/2", EventCount: 20},
		{Label: "https://github.com/a/b/issues/3", EventCount: 20},
		{Label: "https://github.com/a/b/issues/4", EventCount: 5},
	}, rows)

	require.Len(t, src.params, 1)
	assert.Equal(t, "-ga:totalEvents", src.params[0].Sort)
	assert.Equal(t, 5, src.params[0].MaxResults)
}

func TestLeastClickedSortAscending(t *testing.T) {
	src := &fakeQuerier{rows: [][]string{{"x", "1"}}}
	a := newTestAggregator(src)

	_, err := a.LeastClicked(context.Background())
	require.NoError(t, err)
	require.Len(t, src.params, 1)
	assert.Equal(t, "ga:totalEvents", src.params[0].Sort)
}

func TestMostRecentClicked(t *testing.T) {
	src := &fakeQuerier{rows: [][]string{
		{"https://github.com/a/b/issues/9", "20260901", "3"},
	}}
	a := newTestAggregator(src)

	label, err := a.MostRecentClicked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/a/b/issues/9", label)

	require.Len(t, src.params, 1)
	p := src.params[0]
	assert.Equal(t, "1daysAgo", p.StartDate)
	assert.Equal(t, "-ga:date", p.Sort)
	assert.Equal(t, 1, p.MaxResults)
}

func TestMostRecentClickedEmptyWindow(t *testing.T) {
	a := newTestAggregator(&fakeQuerier{rows: nil})
	label, err := a.MostRecentClicked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", label)
}

func TestQueryErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	a := newTestAggregator(&fakeQuerier{err: wantErr})

	_, err := a.TopClicked(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestParseLabeledRowsRejectsShortRow(t *testing.T) {
	_, err := parseLabeledRows([][]string{{"lonely"}}, false)
	assert.Error(t, err)
}

func TestParseLabeledRowsBadCount(t *testing.T) {
	_, err := parseLabeledRows([][]string{{"label", "NaN"}}, false)
	assert.Error(t, err)
}
