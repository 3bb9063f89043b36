package usage

import (
	"errors"
	"regexp"
	"sort"
)

// ErrNoInputFiles is returned when a directory holds no monthly usage files.
var ErrNoInputFiles = errors.New("no monthly usage files found")

// Usage maps a user id to accumulated CPU seconds.
type Usage map[string]int64

// Record is one line of a usage file.
type Record struct {
	User    string
	Seconds int64
}

func (u Usage) Add(user string, seconds int64) {
	u[user] += seconds
}

// Merge folds other into u, summing seconds for shared users.
func (u Usage) Merge(other Usage) {
	for user, seconds := range other {
		u[user] += seconds
	}
}

// Total is the sum of all measures. Useful for conservation checks in
// stage summaries.
func (u Usage) Total() int64 {
	var total int64
	for _, seconds := range u {
		total += seconds
	}
	return total
}

// Records returns entries sorted by descending seconds, ties broken by
// user id, so written files are deterministic and diffable.
func (u Usage) Records() []Record {
	records := make([]Record, 0, len(u))
	for user, seconds := range u {
		records = append(records, Record{User: user, Seconds: seconds})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Seconds != records[j].Seconds {
			return records[i].Seconds > records[j].Seconds
		}
		return records[i].User < records[j].User
	})
	return records
}

// monthlyFileName matches the YYYY-MM.txt files the monthly stage emits.
var monthlyFileName = regexp.MustCompile(`^\d{4}-\d{2}\.txt$`)
