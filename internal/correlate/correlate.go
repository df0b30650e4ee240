package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/civicsignal/gotissues/internal/model"
	"github.com/civicsignal/gotissues/internal/telemetry"
	"github.com/civicsignal/gotissues/internal/tracker"
)

// Resolver fetches the raw issue record for a normalized resource path.
// *tracker.Client satisfies it.
type Resolver interface {
	GetIssue(ctx context.Context, path string) (model.RawIssue, error)
}

// Store persists combined records. *storage.DB satisfies it. UpsertIssue
// must be atomic per issue id (insert-if-absent, else merge-update).
type Store interface {
	UpsertIssue(ctx context.Context, rec model.CombinedRecord, source string) (model.StoredIssue, error)
}

// Result is the outcome of one correlation pass: ordered successes plus the
// rows whose resolution failed. Both slices preserve the input rank order.
type Result struct {
	Pairs  []model.CorrelatedPair
	Failed []model.RowFailure
}

// Correlator runs the normalize → resolve → project → persist pipeline over
// a ranked row sequence. Rows are resolved concurrently (they are
// independent), but the output preserves the input order and writes happen
// in rank order.
type Correlator struct {
	resolver    Resolver
	store       Store
	concurrency int
	logger      *slog.Logger

	rowsResolved metric.Int64Counter
	rowsFailed   metric.Int64Counter
	passDuration metric.Float64Histogram
}

// New creates a Correlator. concurrency bounds the number of in-flight
// resolutions per pass; values below 1 mean sequential.
func New(resolver Resolver, store Store, concurrency int, logger *slog.Logger) *Correlator {
	if concurrency < 1 {
		concurrency = 1
	}
	meter := telemetry.Meter("gotissues/correlate")
	resolved, _ := meter.Int64Counter("gotissues.correlate.rows_resolved",
		metric.WithDescription("Analytics rows successfully resolved to issues"))
	failed, _ := meter.Int64Counter("gotissues.correlate.rows_failed",
		metric.WithDescription("Analytics rows whose resolution failed"))
	passDur, _ := meter.Float64Histogram("gotissues.correlate.pass_duration",
		metric.WithDescription("Duration of one correlation pass (ms)"),
		metric.WithUnit("ms"))
	return &Correlator{
		resolver:     resolver,
		store:        store,
		concurrency:  concurrency,
		logger:       logger,
		rowsResolved: resolved,
		rowsFailed:   failed,
		passDuration: passDur,
	}
}

// Run executes one correlation pass. source tags the persisted records with
// where the views came from (e.g. the originating page path).
//
// Per-row resolution failures never abort the pass: the row is recorded in
// Result.Failed and its siblings continue. Duplicate labels are resolved
// independently — deduplication is the store's job, where the upsert keyed
// by issue id converges them. The returned error is reserved for pass-level
// faults (context cancellation before any work, storage unavailable).
func (c *Correlator) Run(ctx context.Context, source string, rows []model.AnalyticsRow) (Result, error) {
	start := time.Now()

	type slot struct {
		raw model.RawIssue
		err error
	}
	slots := make([]slot, len(rows))

	// Fan out resolutions with a bounded group. Goroutines never return an
	// error: a failed resolution is a per-row outcome, not a reason to
	// cancel siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, row := range rows {
		g.Go(func() error {
			path := tracker.StripURL(row.Label)
			raw, err := c.resolver.GetIssue(gctx, path)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].raw = raw
			return nil
		})
	}
	_ = g.Wait()

	// Combine and persist in rank order so the output sequence and the
	// write order both follow the ranking.
	res := Result{}
	for i, row := range rows {
		if err := slots[i].err; err != nil {
			c.logger.Warn("row resolution failed", "label", row.Label, "error", err)
			c.rowsFailed.Add(ctx, 1)
			res.Failed = append(res.Failed, model.RowFailure{Label: row.Label, Reason: err.Error()})
			continue
		}

		rec := model.CombinedRecord{
			ProjectedIssue: ProjectIssue(slots[i].raw),
			Clicks:         row.EventCount,
		}
		if _, err := c.store.UpsertIssue(ctx, rec, source); err != nil {
			// A write failure is still scoped to this record; the pass
			// carries on and reports it alongside resolution failures.
			c.logger.Error("issue upsert failed", "id", rec.ID, "error", err)
			c.rowsFailed.Add(ctx, 1)
			res.Failed = append(res.Failed, model.RowFailure{
				Label:  row.Label,
				Reason: fmt.Sprintf("store: %v", err),
			})
			continue
		}

		c.rowsResolved.Add(ctx, 1)
		res.Pairs = append(res.Pairs, model.CorrelatedPair{Record: rec, Row: row})
	}

	c.passDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Int("rows", len(rows))))
	c.logger.Info("correlation pass complete",
		"rows", len(rows),
		"resolved", len(res.Pairs),
		"failed", len(res.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
