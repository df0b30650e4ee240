package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicsignal/gotissues/internal/analytics"
	"github.com/civicsignal/gotissues/internal/correlate"
	"github.com/civicsignal/gotissues/internal/model"
)

// AggregateSource is the slice of the analytics aggregator the handlers
// consume. *analytics.Aggregator satisfies it.
type AggregateSource interface {
	TotalClicks(ctx context.Context) (int64, error)
	TotalPageViews(ctx context.Context) (int64, error)
	ClicksPerView(clicks, views int64) (int64, error)
	TopClicked(ctx context.Context) ([]model.AnalyticsRow, error)
	LeastClicked(ctx context.Context) ([]model.AnalyticsRow, error)
	MostRecentClicked(ctx context.Context) (string, error)
	TopCities(ctx context.Context) ([]model.AnalyticsRow, error)
	AllIssueRows(ctx context.Context) ([]model.AnalyticsRow, error)
}

// CorrelationRunner runs one correlation pass. *correlate.Correlator
// satisfies it.
type CorrelationRunner interface {
	Run(ctx context.Context, source string, rows []model.AnalyticsRow) (correlate.Result, error)
}

// IssueStore is the read side of the persisted store used for reporting.
type IssueStore interface {
	ListIssues(ctx context.Context) ([]model.StoredIssue, error)
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	agg        AggregateSource
	correlator CorrelationRunner
	store      IssueStore
	source     string // view-source tag recorded on every upsert
	logger     *slog.Logger
	startedAt  time.Time
	version    string
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Aggregator AggregateSource
	Correlator CorrelationRunner
	Store      IssueStore
	Source     string
	Logger     *slog.Logger
	Version    string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		agg:        d.Aggregator,
		correlator: d.Correlator,
		store:      d.Store,
		source:     d.Source,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,
	}
}

// HandleReport handles GET /report. It runs the aggregate queries and one
// correlation pass over the top-clicked rows, returning the plain report
// data. Per-row resolution failures stay in-band in the failed list; only
// an unreachable analytics source fails the whole request.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalClicks, err := h.agg.TotalClicks(ctx)
	if err != nil {
		h.upstreamError(w, r, "total clicks", err)
		return
	}
	totalViews, err := h.agg.TotalPageViews(ctx)
	if err != nil {
		h.upstreamError(w, r, "total page views", err)
		return
	}
	top, err := h.agg.TopClicked(ctx)
	if err != nil {
		h.upstreamError(w, r, "top clicked", err)
		return
	}
	least, err := h.agg.LeastClicked(ctx)
	if err != nil {
		h.upstreamError(w, r, "least clicked", err)
		return
	}
	recent, err := h.agg.MostRecentClicked(ctx)
	if err != nil {
		h.upstreamError(w, r, "most recent clicked", err)
		return
	}

	report := model.Report{
		TotalClicks:     totalClicks,
		TotalPageViews:  totalViews,
		TopClicked:      top,
		LeastClicked:    least,
		MostRecentLabel: recent,
	}

	// A zero page-view denominator makes the conversion undefined, which is
	// a reportable state, not a server error.
	if pct, err := h.agg.ClicksPerView(totalClicks, totalViews); err == nil {
		report.ClicksPerView = &pct
	} else if !errors.Is(err, analytics.ErrNoPageViews) {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "conversion computation failed")
		return
	}

	res, err := h.correlator.Run(ctx, h.source, top)
	if err != nil {
		h.logger.Error("correlation pass failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "correlation pass failed")
		return
	}
	report.Correlated = res.Pairs
	report.Failed = res.Failed

	writeJSON(w, r, http.StatusOK, report)
}

// HandleIssues handles GET /v1/issues: the full persisted store, most
// clicked first.
func (h *Handlers) HandleIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := h.store.ListIssues(r.Context())
	if err != nil {
		h.logger.Error("list issues failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "list issues failed")
		return
	}
	if issues == nil {
		issues = []model.StoredIssue{}
	}
	writeJSON(w, r, http.StatusOK, issues)
}

// HandleStats handles GET /stats: click origins and the size of the
// clicked-issue universe.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cities, err := h.agg.TopCities(ctx)
	if err != nil {
		h.upstreamError(w, r, "top cities", err)
		return
	}
	issueRows, err := h.agg.AllIssueRows(ctx)
	if err != nil {
		h.upstreamError(w, r, "issue rows", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.Stats{
		TotalIssueRows: len(issueRows),
		TopCities:      cities,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, map[string]any{
		"status":         dbStatus,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("analytics query failed", "op", op, "error", err)
	writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "analytics source unavailable")
}
