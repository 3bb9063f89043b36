// Package sacct wraps the SLURM accounting query as an external
// collaborator. The query streams raw job rows; reducing them to
// per-user totals happens in the collect stage.
package sacct

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Row is one accounting record: who ran the job, where, and how many
// raw CPU seconds it was charged.
type Row struct {
	User      string
	Partition string
	RawCPU    string
}

// Querier yields accounting rows for a time window, one callback per
// row so a month's output is never held in memory at once.
type Querier interface {
	Query(ctx context.Context, start, end time.Time, fn func(Row)) error
}

// CommandQuerier shells out to sacct. Output is requested headerless
// and pipe-separated so parsing stays trivial.
type CommandQuerier struct {
	// Binary is the sacct executable, "sacct" when empty.
	Binary string
	// Partition, when fully qualified, is pushed down to sacct to
	// bound the amount of data the query returns.
	Partition string
}

func (q CommandQuerier) Query(ctx context.Context, start, end time.Time, fn func(Row)) error {
	bin := q.Binary
	if bin == "" {
		bin = "sacct"
	}

	args := []string{
		"--allusers",
		"--noconvert",
		"-n", "-P",
		"-o", "User,Partition,CPUTimeRAW",
		"-S", start.Format("2006-01-02"),
		"-E", end.Format("2006-01-02"),
	}
	args = append(args, pushdownArgs(q.Partition)...)

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe sacct stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if row, ok := ParseRow(scanner.Text()); ok {
			fn(row)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s exited: %w", bin, err)
	}
	if scanErr != nil {
		return fmt.Errorf("read sacct output: %w", scanErr)
	}
	return nil
}

// pushdownArgs returns a --partition argument when the filter names a
// single concrete partition (at least three dashes, no wildcard).
// Broader filters are applied client-side by Filter instead.
func pushdownArgs(partition string) []string {
	filters := splitFilters(partition)
	if len(filters) != 1 {
		return nil
	}
	p := filters[0]
	if strings.Contains(p, "*") || strings.Count(p, "-") < 3 {
		return nil
	}
	return []string{"--partition", p}
}

// ParseRow splits a pipe-separated "user|partition|cputimeraw" line.
// Lines without both separators are not rows and are dropped.
func ParseRow(line string) (Row, bool) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) != 3 {
		return Row{}, false
	}
	return Row{User: parts[0], Partition: parts[1], RawCPU: parts[2]}, true
}

// Filter matches partitions against a set of case-sensitive name
// prefixes. An empty filter matches everything.
type Filter struct {
	prefixes []string
}

// NewFilter parses a comma-separated filter list. Blanks are dropped
// and a trailing wildcard star is treated as the prefix it implies.
func NewFilter(raw string) Filter {
	var prefixes []string
	for _, item := range splitFilters(raw) {
		prefixes = append(prefixes, strings.TrimSuffix(item, "*"))
	}
	return Filter{prefixes: prefixes}
}

func (f Filter) Match(partition string) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	for _, prefix := range f.prefixes {
		if strings.HasPrefix(partition, prefix) {
			return true
		}
	}
	return false
}

func splitFilters(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
