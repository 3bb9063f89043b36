// Package store archives collected usage totals so past reporting runs
// stay queryable after the flat files are rotated away.
package store

import (
	"context"
	"time"
)

// UsageRow is one user's total for one accounting period, tagged with
// the run that produced it.
type UsageRow struct {
	RunID     string
	Period    string
	User      string
	Seconds   int64
	CreatedAt time.Time
}

type UsageStore interface {
	SaveUsage(ctx context.Context, rows []UsageRow) error
	Close() error
}
