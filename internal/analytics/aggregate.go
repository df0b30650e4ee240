package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/civicsignal/gotissues/internal/model"
)

// ErrNoPageViews signals that the conversion percentage is undefined: the
// page-view denominator for the window was zero. Callers report it as an
// explicit undefined result rather than dividing.
var ErrNoPageViews = errors.New("analytics: no page views in window")

// Querier is the opaque ranked-rows provider the aggregator reads from.
// *Session satisfies it.
type Querier interface {
	Query(ctx context.Context, p QueryParams) ([][]string, error)
}

// Aggregator computes the derived click metrics for the fixed reporting
// window [start date, today]. It is pure aggregation over the returned
// rows; the only side effect is the read itself.
type Aggregator struct {
	source        Querier
	startDate     string
	eventCategory string
	pagePath      string
	rankLimit     int
	logger        *slog.Logger

	// now is stubbed in tests to pin the window end.
	now func() time.Time
}

// AggregatorConfig holds the settings for constructing an Aggregator.
type AggregatorConfig struct {
	Source        Querier
	StartDate     string // YYYY-MM-DD, fixed beginning of the window.
	EventCategory string
	PagePath      string
	RankLimit     int
	Logger        *slog.Logger
}

// NewAggregator creates an Aggregator over the given source.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	limit := cfg.RankLimit
	if limit <= 0 {
		limit = 5
	}
	return &Aggregator{
		source:        cfg.Source,
		startDate:     cfg.StartDate,
		eventCategory: cfg.EventCategory,
		pagePath:      cfg.PagePath,
		rankLimit:     limit,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

func (a *Aggregator) endDate() string {
	return a.now().Format("2006-01-02")
}

// TotalClicks returns the total event count matching the event-category
// filter over the whole window.
func (a *Aggregator) TotalClicks(ctx context.Context) (int64, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:   "ga:totalEvents",
		Filters:   "ga:eventCategory=@" + a.eventCategory,
		StartDate: a.startDate,
		EndDate:   a.endDate(),
	})
	if err != nil {
		return 0, err
	}
	return singleCount(rows)
}

// TotalPageViews returns the total page-view count matching the page-path
// filter over the whole window.
func (a *Aggregator) TotalPageViews(ctx context.Context) (int64, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:    "ga:pageviews",
		Filters:    "ga:pagePath=@" + a.pagePath,
		StartDate:  a.startDate,
		EndDate:    a.endDate(),
		MaxResults: 10,
	})
	if err != nil {
		return 0, err
	}
	return singleCount(rows)
}

// ClicksPerView returns floor(100 * clicks / views). A zero denominator is
// reported as ErrNoPageViews, never as a division fault.
func (a *Aggregator) ClicksPerView(clicks, views int64) (int64, error) {
	if views == 0 {
		return 0, ErrNoPageViews
	}
	return clicks * 100 / views, nil
}

// TopClicked returns the N most-clicked rows, in the order the source
// ranked them. Ties keep source order; no secondary sort is imposed.
func (a *Aggregator) TopClicked(ctx context.Context) ([]model.AnalyticsRow, error) {
	return a.rankedByEvents(ctx, "-ga:totalEvents")
}

// LeastClicked returns the N least-clicked rows, in source order.
func (a *Aggregator) LeastClicked(ctx context.Context) ([]model.AnalyticsRow, error) {
	return a.rankedByEvents(ctx, "ga:totalEvents")
}

func (a *Aggregator) rankedByEvents(ctx context.Context, sort string) ([]model.AnalyticsRow, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:    "ga:totalEvents",
		Dimensions: "ga:eventLabel",
		Filters:    "ga:eventCategory=@" + a.eventCategory,
		StartDate:  a.startDate,
		EndDate:    a.endDate(),
		Sort:       sort,
		MaxResults: a.rankLimit,
	})
	if err != nil {
		return nil, err
	}
	return parseLabeledRows(rows, false)
}

// MostRecentClicked returns the label of the single most recently clicked
// row within the last 1-day window, most recent first, first of ties. An
// empty label with nil error means nothing was clicked in the window.
func (a *Aggregator) MostRecentClicked(ctx context.Context) (string, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:    "ga:totalEvents",
		Dimensions: "ga:eventLabel,ga:date",
		Filters:    "ga:eventCategory==" + a.eventCategory,
		StartDate:  "1daysAgo",
		EndDate:    a.endDate(),
		Sort:       "-ga:date",
		MaxResults: 1,
	})
	if err != nil {
		return "", err
	}
	parsed, err := parseLabeledRows(rows, true)
	if err != nil {
		return "", err
	}
	if len(parsed) == 0 {
		return "", nil
	}
	return parsed[0].Label, nil
}

// TopCities returns the cities generating the most clicks.
func (a *Aggregator) TopCities(ctx context.Context) ([]model.AnalyticsRow, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:    "ga:totalEvents",
		Dimensions: "ga:city",
		Filters:    "ga:eventCategory=@" + a.eventCategory,
		StartDate:  a.startDate,
		EndDate:    a.endDate(),
		Sort:       "-ga:totalEvents",
		MaxResults: 10,
	})
	if err != nil {
		return nil, err
	}
	return parseLabeledRows(rows, false)
}

// AllIssueRows returns every clicked row whose label points at the code
// hosting site, ranked by event count.
func (a *Aggregator) AllIssueRows(ctx context.Context) ([]model.AnalyticsRow, error) {
	rows, err := a.source.Query(ctx, QueryParams{
		Metrics:    "ga:totalEvents",
		Dimensions: "ga:eventLabel",
		Filters:    "ga:eventCategory==" + a.eventCategory + ";ga:eventLabel=@github.com",
		StartDate:  a.startDate,
		EndDate:    a.endDate(),
		Sort:       "-ga:totalEvents",
	})
	if err != nil {
		return nil, err
	}
	return parseLabeledRows(rows, false)
}

// singleCount extracts the single scalar an unranked metrics query returns.
func singleCount(rows [][]string) (int64, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(rows[0][0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("analytics: parse count %q: %w", rows[0][0], err)
	}
	return n, nil
}

// parseLabeledRows converts raw ranked rows into AnalyticsRows. Each row is
// label [,date] ,count — the count is always the final field. Order is
// preserved exactly as returned.
func parseLabeledRows(rows [][]string, hasDate bool) ([]model.AnalyticsRow, error) {
	out := make([]model.AnalyticsRow, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			return nil, fmt.Errorf("analytics: ranked row too short: %v", r)
		}
		count, err := strconv.ParseInt(r[len(r)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("analytics: parse event count %q: %w", r[len(r)-1], err)
		}
		row := model.AnalyticsRow{Label: r[0], EventCount: count}
		if hasDate && len(r) >= 3 {
			row.Date = r[1]
		}
		out = append(out, row)
	}
	return out, nil
}
