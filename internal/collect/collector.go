// Package collect runs the monthly accounting stage: one external
// query per calendar month, reduced on the fly to per-user CPU-second
// totals and written as one usage file per month. Months are
// independent units of work; a failed query skips that month and the
// run continues, which keeps backfills restartable.
package collect

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lrz-hpc/topusers/internal/dates"
	"github.com/lrz-hpc/topusers/internal/metrics"
	"github.com/lrz-hpc/topusers/internal/sacct"
	"github.com/lrz-hpc/topusers/internal/usage"
)

type Collector struct {
	Querier sacct.Querier
	Filter  sacct.Filter
	OutDir  string
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Summary reports what a collection run did across all months.
type Summary struct {
	Months      int
	Failed      int
	Users       int
	RowsMatched int64
	RowsSkipped int64
}

// Run collects every month in order. A failed accounting query skips
// that month and continues; an unwritable output file aborts the stage,
// because every remaining month would hit the same filesystem.
func (c *Collector) Run(ctx context.Context, months []dates.Range) (Summary, error) {
	tracer := otel.Tracer("topusers/collect")

	var summary Summary
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Months++

		monthCtx, span := tracer.Start(ctx, "collect.month")
		span.SetAttributes(
			attribute.String("collect.month", month.Label()),
			attribute.String("collect.window", month.String()),
		)

		u, err := c.queryMonth(monthCtx, month, &summary)
		if err != nil {
			summary.Failed++
			c.Metrics.MonthsTotal.WithLabelValues("failed").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "accounting query failed")
			span.End()
			c.Logger.Printf("%s failed: %v", month.Label(), err)
			continue
		}

		path := filepath.Join(c.OutDir, month.Label()+".txt")
		if err := usage.WriteFile(path, u); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write failed")
			span.End()
			return summary, fmt.Errorf("write monthly file: %w", err)
		}

		c.Metrics.MonthsTotal.WithLabelValues("collected").Inc()
		c.Metrics.UsersCollected.Add(float64(len(u)))
		span.SetAttributes(attribute.Int("collect.users", len(u)))
		span.SetStatus(codes.Ok, "collected")
		span.End()
		summary.Users += len(u)
		c.Logger.Printf("%s done users=%d", month.Label(), len(u))
	}
	return summary, nil
}

func (c *Collector) queryMonth(ctx context.Context, month dates.Range, summary *Summary) (usage.Usage, error) {
	u := make(usage.Usage)
	err := c.Querier.Query(ctx, month.Start, month.End, func(row sacct.Row) {
		if row.User == "" || !c.Filter.Match(row.Partition) {
			return
		}
		seconds, err := strconv.ParseInt(row.RawCPU, 10, 64)
		if err != nil {
			// A single malformed row must not abort the month.
			summary.RowsSkipped++
			c.Metrics.RowsTotal.WithLabelValues("skipped").Inc()
			return
		}
		summary.RowsMatched++
		c.Metrics.RowsTotal.WithLabelValues("summed").Inc()
		u.Add(row.User, seconds)
	})
	if err != nil {
		return nil, fmt.Errorf("accounting query %s: %w", month, err)
	}
	return u, nil
}
