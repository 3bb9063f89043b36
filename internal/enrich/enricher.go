// Package enrich joins per-user usage with directory identity data and
// emits the enriched CSV table the reporting stages consume.
package enrich

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lrz-hpc/topusers/internal/groups"
	"github.com/lrz-hpc/topusers/internal/metrics"
	"github.com/lrz-hpc/topusers/internal/sim"
	"github.com/lrz-hpc/topusers/internal/usage"
)

// Columns is the fixed header of the enriched table. Downstream stages
// key on "measure", "Email address" and "projekt".
var Columns = []string{
	"user",
	"measure",
	"Email address",
	"Vorname",
	"Nachname",
	"geschlecht",
	"status",
	"projekt",
	"initiative",
}

const initiativeName = "mcml"

type Enricher struct {
	Directory sim.Lookup
	// Groups drives the initiative column; nil disables it.
	Groups groups.Lookup
	// InitiativeSuffix marks supplementary groups that flag a user as
	// initiative-affiliated.
	InitiativeSuffix string
	Concurrency      int
	Logger           *log.Logger
	Metrics          *metrics.Metrics
}

// Summary reports an enrichment run. Dropped counts users whose lookup
// failed or whose record carries no project id; their absence from the
// output is intentional and logged per user.
type Summary struct {
	Enriched int
	Dropped  int
}

// Run looks up every input record and writes the enriched CSV to w.
// Lookups run with bounded concurrency; output rows keep input order
// so repeated runs over the same input diff cleanly.
func (e *Enricher) Run(ctx context.Context, records []usage.Record, w io.Writer) (Summary, error) {
	tracer := otel.Tracer("topusers/enrich")
	ctx, span := tracer.Start(ctx, "enrich.run")
	span.SetAttributes(attribute.Int("enrich.users", len(records)))
	defer span.End()

	rows := make([][]string, len(records))

	g, gctx := errgroup.WithContext(ctx)
	limit := e.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i] = e.enrichUser(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return Summary{}, fmt.Errorf("write csv header: %w", err)
	}
	var summary Summary
	for _, row := range rows {
		if row == nil {
			summary.Dropped++
			continue
		}
		if err := cw.Write(row); err != nil {
			return summary, fmt.Errorf("write csv row: %w", err)
		}
		summary.Enriched++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return summary, fmt.Errorf("flush csv: %w", err)
	}

	span.SetAttributes(
		attribute.Int("enrich.enriched", summary.Enriched),
		attribute.Int("enrich.dropped", summary.Dropped),
	)
	return summary, nil
}

// enrichUser returns the CSV row for one user, or nil when the user is
// dropped. Per-user failures never abort the run.
func (e *Enricher) enrichUser(ctx context.Context, rec usage.Record) []string {
	e.Metrics.ActiveLookups.Inc()
	started := time.Now()
	identity, err := e.Directory.LookupUser(ctx, rec.User)
	e.Metrics.LookupDurations.Observe(time.Since(started).Seconds())
	e.Metrics.ActiveLookups.Dec()

	if err != nil {
		e.Metrics.LookupsTotal.WithLabelValues("failed").Inc()
		e.Logger.Printf("dropping %s: %v", rec.User, err)
		return nil
	}
	if identity.Project == "" {
		e.Metrics.LookupsTotal.WithLabelValues("no_project").Inc()
		e.Logger.Printf("dropping %s: record has no project id", rec.User)
		return nil
	}
	e.Metrics.LookupsTotal.WithLabelValues("ok").Inc()

	return []string{
		rec.User,
		strconv.FormatInt(rec.Seconds, 10),
		identity.Email,
		identity.FirstName,
		identity.LastName,
		identity.Gender,
		identity.Status,
		identity.Project,
		e.initiative(ctx, rec.User),
	}
}

// initiative reports membership in the initiative by suffix-matching
// the user's supplementary groups. The primary group is skipped on
// purpose: project groups are always supplementary. Lookup failures
// just leave the column empty.
func (e *Enricher) initiative(ctx context.Context, user string) string {
	if e.Groups == nil || e.InitiativeSuffix == "" {
		return ""
	}
	memberships, err := e.Groups.GroupsOf(ctx, user)
	if err != nil {
		e.Logger.Printf("initiative lookup failed for %s: %v", user, err)
		return ""
	}
	if len(memberships) < 2 {
		return ""
	}
	for _, g := range memberships[1:] {
		if strings.HasSuffix(g, e.InitiativeSuffix) {
			return initiativeName
		}
	}
	return ""
}
