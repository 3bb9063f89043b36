// topusers reports cumulative compute usage per user and project from
// the SLURM accounting database.
//
// Usage:
//
//	topusers monthly --start 2025-01 --end 2025-03
//	topusers aggregate --datadir . --ofile total.txt
//	topusers nomcml --ifile total.txt --mcmlfile groups.txt --ofile external.txt
//	topusers enrich --ifile external.txt --ofile enriched.csv
//	topusers emails --ifile enriched.csv -n 10
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lrz-hpc/topusers/internal/collect"
	"github.com/lrz-hpc/topusers/internal/config"
	"github.com/lrz-hpc/topusers/internal/dates"
	"github.com/lrz-hpc/topusers/internal/enrich"
	"github.com/lrz-hpc/topusers/internal/groups"
	"github.com/lrz-hpc/topusers/internal/id"
	"github.com/lrz-hpc/topusers/internal/metrics"
	"github.com/lrz-hpc/topusers/internal/report"
	"github.com/lrz-hpc/topusers/internal/sacct"
	"github.com/lrz-hpc/topusers/internal/sim"
	"github.com/lrz-hpc/topusers/internal/storage"
	"github.com/lrz-hpc/topusers/internal/store"
	"github.com/lrz-hpc/topusers/internal/telemetry"
	"github.com/lrz-hpc/topusers/internal/usage"
)

const defaultPartition = "lrz-hgx-h100-94x4"

func main() {
	app := &cli.App{
		Name:  "topusers",
		Usage: "per-user and per-project compute usage reports from SLURM accounting",
		Commands: []*cli.Command{
			monthlyCommand(),
			aggregateCommand(),
			nomcmlCommand(),
			mcmlCommand(),
			enrichCommand(),
			aggregateGroupsCommand(),
			emailsCommand(),
			archiveCommand(),
			publishCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stageEnv bundles what every stage action needs: config, its stderr
// logger, and the shared metrics registry.
type stageEnv struct {
	cfg     config.Config
	logger  *log.Logger
	metrics *metrics.Metrics
}

// stageAction wraps a stage with the per-run plumbing: signal-aware
// context, tracing setup, and the optional metrics endpoint for long
// collection or enrichment runs.
func stageAction(name string, fn func(ctx context.Context, c *cli.Context, env *stageEnv) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		env := &stageEnv{
			cfg:     config.Load(),
			logger:  log.New(os.Stderr, "["+name+"] ", log.LstdFlags|log.Lmsgprefix),
			metrics: metrics.New(),
		}

		shutdown, err := telemetry.Setup(ctx, telemetry.Config{
			Exporter:     env.cfg.Telemetry.Exporter,
			OTLPEndpoint: env.cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: env.cfg.Telemetry.OTLPInsecure,
		}, env.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				env.logger.Printf("trace shutdown: %v", err)
			}
		}()

		if addr := env.cfg.Telemetry.MetricsAddr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: env.metrics.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					env.logger.Printf("metrics server: %v", err)
				}
			}()
			defer srv.Shutdown(context.Background())
		}

		return fn(ctx, c, env)
	}
}

func monthlyCommand() *cli.Command {
	return &cli.Command{
		Name:  "monthly",
		Usage: "collect per-user usage from sacct, one file per calendar month",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "range start, YYYY-MM-DD or YYYY-MM", Required: true},
			&cli.StringFlag{Name: "end", Usage: "range end, YYYY-MM-DD or YYYY-MM (default: today)"},
			&cli.StringFlag{Name: "partition", Value: defaultPartition, Usage: "comma-separated partition prefixes, '*' wildcard allowed"},
			&cli.StringFlag{Name: "outdir", Value: ".", Usage: "directory for monthly usage files"},
		},
		Action: stageAction("monthly", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			start, err := dates.Parse(c.String("start"))
			if err != nil {
				return err
			}
			var end *dates.Spec
			if raw := c.String("end"); raw != "" {
				parsed, err := dates.Parse(raw)
				if err != nil {
					return err
				}
				end = &parsed
			}
			months, err := dates.Months(start, end, time.Now().UTC())
			if err != nil {
				return err
			}

			partition := c.String("partition")
			collector := &collect.Collector{
				Querier: sacct.CommandQuerier{
					Binary:    env.cfg.Accounting.SacctBinary,
					Partition: partition,
				},
				Filter:  sacct.NewFilter(partition),
				OutDir:  c.String("outdir"),
				Logger:  env.logger,
				Metrics: env.metrics,
			}
			summary, err := collector.Run(ctx, months)
			if err != nil {
				return err
			}
			env.logger.Printf("months=%d failed=%d users=%d rows=%d skipped=%d",
				summary.Months, summary.Failed, summary.Users, summary.RowsMatched, summary.RowsSkipped)
			return nil
		}),
	}
}

func aggregateCommand() *cli.Command {
	return &cli.Command{
		Name:  "aggregate",
		Usage: "sum all monthly usage files in a directory into one file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: ".", Usage: "directory holding YYYY-MM.txt files"},
			&cli.StringFlag{Name: "ofile", Usage: "aggregated output file", Required: true},
		},
		Action: stageAction("aggregate", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			total, stats, err := usage.MergeDir(c.String("datadir"))
			if err != nil {
				return err
			}
			if stats.SkippedLines > 0 {
				env.logger.Printf("skipped %d malformed lines", stats.SkippedLines)
			}
			if err := usage.WriteFile(c.String("ofile"), total); err != nil {
				return err
			}
			env.logger.Printf("merged files=%d users=%d total=%d", stats.Files, len(total), total.Total())
			return nil
		}),
	}
}

func groupSetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "ifile", Usage: "input usage file", Required: true},
		&cli.StringFlag{Name: "ofile", Usage: "filtered output file", Required: true},
		&cli.StringFlag{Name: "mcmlprojects", Usage: "comma-separated group names"},
		&cli.StringFlag{Name: "mcmlfile", Usage: "file with one group name per line"},
	}
}

func runGroupFilter(ctx context.Context, c *cli.Context, env *stageEnv, mode groups.Mode) error {
	set, err := groups.ParseSet(c.String("mcmlprojects"), c.String("mcmlfile"))
	if err != nil {
		return err
	}
	u, skipped, err := usage.ReadFile(c.String("ifile"))
	if err != nil {
		return err
	}
	if skipped > 0 {
		env.logger.Printf("skipped %d malformed lines", skipped)
	}

	result, err := groups.Filter(ctx, u, set, groups.IDCommand{}, mode, env.logger)
	if err != nil {
		return err
	}
	if err := usage.WriteFile(c.String("ofile"), result.Kept); err != nil {
		return err
	}
	env.logger.Printf("kept=%d dropped=%d lookup_failures=%d",
		len(result.Kept), result.Dropped, result.LookupFailures)
	return nil
}

func nomcmlCommand() *cli.Command {
	return &cli.Command{
		Name:  "nomcml",
		Usage: "drop users belonging to any of the given groups",
		Flags: groupSetFlags(),
		Action: stageAction("nomcml", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			return runGroupFilter(ctx, c, env, groups.Drop)
		}),
	}
}

func mcmlCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcml",
		Usage: "keep (--yes) or drop (--no) users belonging to the given groups",
		Flags: append(groupSetFlags(),
			&cli.BoolFlag{Name: "yes", Usage: "keep only affiliated users"},
			&cli.BoolFlag{Name: "no", Usage: "drop affiliated users"},
		),
		Action: stageAction("mcml", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			if c.Bool("yes") == c.Bool("no") {
				return fmt.Errorf("exactly one of --yes or --no is required")
			}
			mode := groups.Keep
			if c.Bool("no") {
				mode = groups.Drop
			}
			return runGroupFilter(ctx, c, env, mode)
		}),
	}
}

func enrichCommand() *cli.Command {
	return &cli.Command{
		Name:  "enrich",
		Usage: "join usage with identity and project data from the directory API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ifile", Usage: "input usage file", Required: true},
			&cli.StringFlag{Name: "ofile", Usage: "enriched CSV output file", Required: true},
		},
		Action: stageAction("enrich", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			records, skipped, err := usage.ReadRecords(c.String("ifile"))
			if err != nil {
				return err
			}
			if skipped > 0 {
				env.logger.Printf("skipped %d malformed lines", skipped)
			}

			dir := env.cfg.Directory
			client, err := sim.NewClient(sim.Config{
				BaseURL:           dir.BaseURL,
				Username:          dir.Username,
				Password:          dir.Password,
				NetrcPath:         dir.NetrcPath,
				Timeout:           dir.Timeout,
				MaxAttempts:       dir.MaxAttempts,
				RequestsPerSecond: dir.RequestsPerSecond,
			})
			if err != nil {
				return err
			}

			enricher := &enrich.Enricher{
				Directory:        client,
				Groups:           groups.IDCommand{},
				InitiativeSuffix: env.cfg.Report.InitiativeSuffix,
				Concurrency:      dir.Concurrency,
				Logger:           env.logger,
				Metrics:          env.metrics,
			}

			var summary enrich.Summary
			err = usage.WriteAtomic(c.String("ofile"), func(w io.Writer) error {
				summary, err = enricher.Run(ctx, records, w)
				return err
			})
			if err != nil {
				return err
			}
			env.logger.Printf("enriched=%d dropped=%d", summary.Enriched, summary.Dropped)
			return nil
		}),
	}
}

func aggregateGroupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "aggregate_groups",
		Usage: "sum the enriched table per project",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ifile", Usage: "enriched CSV input file", Required: true},
			&cli.StringFlag{Name: "ofile", Usage: "per-project CSV output file", Required: true},
		},
		Action: stageAction("aggregate_groups", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			table, err := readTableFile(c.String("ifile"))
			if err != nil {
				return err
			}
			totals, err := report.ProjectTotals(table, env.logger)
			if err != nil {
				return err
			}
			err = usage.WriteAtomic(c.String("ofile"), func(w io.Writer) error {
				return report.WriteProjectTotals(w, totals)
			})
			if err != nil {
				return err
			}
			env.logger.Printf("projects=%d", len(totals))
			return nil
		}),
	}
}

func emailsCommand() *cli.Command {
	return &cli.Command{
		Name:  "emails",
		Usage: "extract the top-N notification addresses from the enriched table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ifile", Usage: "enriched CSV input file", Required: true},
			&cli.StringFlag{Name: "ofile", Usage: "output file", Required: true},
			&cli.IntFlag{Name: "n", Value: 10, Usage: "number of addresses"},
		},
		Action: stageAction("emails", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			table, err := readTableFile(c.String("ifile"))
			if err != nil {
				return err
			}
			emails, err := report.TopEmails(table, c.Int("n"), env.cfg.Report.ExcludedDomainMarker)
			if err != nil {
				return err
			}

			if err := usage.WriteAtomic(c.String("ofile"), func(w io.Writer) error {
				return report.WriteEmails(w, emails)
			}); err != nil {
				return err
			}
			env.logger.Printf("extracted %d addresses", len(emails))
			return nil
		}),
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "load an aggregated usage file into the Postgres archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ifile", Usage: "aggregated usage file", Required: true},
			&cli.StringFlag{Name: "period", Usage: "accounting period label, e.g. 2025-03", Required: true},
		},
		Action: stageAction("archive", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			if env.cfg.Database.DSN == "" {
				return fmt.Errorf("POSTGRES_DSN is required for archiving")
			}
			records, skipped, err := usage.ReadRecords(c.String("ifile"))
			if err != nil {
				return err
			}
			if skipped > 0 {
				env.logger.Printf("skipped %d malformed lines", skipped)
			}

			usageStore, err := store.NewPostgresUsageStore(ctx, env.cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer usageStore.Close()

			runID := id.NewRun()
			now := time.Now().UTC()
			rows := make([]store.UsageRow, 0, len(records))
			for _, rec := range records {
				rows = append(rows, store.UsageRow{
					RunID:     runID,
					Period:    c.String("period"),
					User:      rec.User,
					Seconds:   rec.Seconds,
					CreatedAt: now,
				})
			}
			if err := usageStore.SaveUsage(ctx, rows); err != nil {
				return err
			}
			env.logger.Printf("archived run=%s period=%s rows=%d", runID, c.String("period"), len(rows))
			return nil
		}),
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "upload a report file to object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "local report file", Required: true},
			&cli.StringFlag{Name: "object", Usage: "object key (default: file basename)"},
		},
		Action: stageAction("publish", func(ctx context.Context, c *cli.Context, env *stageEnv) error {
			path := c.String("file")
			objectKey := c.String("object")
			if objectKey == "" {
				objectKey = filepath.Base(path)
			}

			client, err := storage.NewClient(storage.Config{
				Endpoint: env.cfg.Storage.Endpoint,
				Access:   env.cfg.Storage.AccessKey,
				Secret:   env.cfg.Storage.SecretKey,
				Bucket:   env.cfg.Storage.Bucket,
				UseSSL:   env.cfg.Storage.UseSSL,
			})
			if err != nil {
				return err
			}
			if err := client.EnsureBucket(ctx); err != nil {
				return err
			}

			exists, err := client.ObjectExists(ctx, objectKey)
			if err != nil {
				return err
			}
			if exists {
				env.logger.Printf("replacing existing object %s", objectKey)
			}

			if err := client.UploadFile(ctx, objectKey, path, contentType(path)); err != nil {
				return err
			}
			env.logger.Printf("published %s to %s/%s", path, client.Bucket(), objectKey)
			return nil
		}),
	}
}

func readTableFile(path string) (report.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return report.Table{}, fmt.Errorf("open enriched table: %w", err)
	}
	defer f.Close()
	return report.ReadTable(f)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	default:
		return "text/plain"
	}
}
