package model

// AnalyticsRow is one ranked (label, count) observation from the
// web-analytics source for a reporting window. Labels are free text; by
// convention they are the URL of the clicked issue. Rows are ephemeral —
// produced per query, never stored.
type AnalyticsRow struct {
	Label      string `json:"label"`
	EventCount int64  `json:"event_count"`

	// Date is set only when the query requested the date dimension
	// (the recency query does). Format YYYYMMDD as emitted by the source.
	Date string `json:"date,omitempty"`
}

// CorrelatedPair is one successful join of an analytics row with its
// resolved issue record. The pair keeps the originating row so reporting
// can show both sides without re-querying.
type CorrelatedPair struct {
	Record CombinedRecord `json:"record"`
	Row    AnalyticsRow   `json:"row"`
}

// RowFailure records a single analytics row whose resolution failed.
// Failures never abort a correlation pass; they ride along in the result.
type RowFailure struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// Report is the plain-data render boundary returned per invocation.
// ClicksPerView is nil when the page-view denominator is zero — the
// conversion is undefined, not zero and not an error response.
type Report struct {
	TotalClicks     int64            `json:"total_clicks"`
	TotalPageViews  int64            `json:"total_page_views"`
	ClicksPerView   *int64           `json:"clicks_per_view"`
	TopClicked      []AnalyticsRow   `json:"top_clicked"`
	LeastClicked    []AnalyticsRow   `json:"least_clicked"`
	MostRecentLabel string           `json:"most_recent_label"`
	Correlated      []CorrelatedPair `json:"correlated"`
	Failed          []RowFailure     `json:"failed"`
}

// Stats is the secondary reporting view: where clicks come from and how
// many distinct issue rows the source has seen.
type Stats struct {
	TotalIssueRows int            `json:"total_issue_rows"`
	TopCities      []AnalyticsRow `json:"top_cities"`
}
