// Package groups resolves UNIX group memberships and filters usage
// mappings against a set of excluded (or required) group names.
package groups

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/lrz-hpc/topusers/internal/usage"
)

// Lookup resolves all group names a user belongs to, primary first.
type Lookup interface {
	GroupsOf(ctx context.Context, user string) ([]string, error)
}

// IDCommand asks the system via `id -Gn`, which covers primary and
// supplementary groups from whatever NSS sources the host is wired to.
type IDCommand struct{}

func (IDCommand) GroupsOf(ctx context.Context, user string) ([]string, error) {
	out, err := exec.CommandContext(ctx, "id", "-Gn", user).Output()
	if err != nil {
		return nil, fmt.Errorf("id -Gn %s: %w", user, err)
	}
	return strings.Fields(string(out)), nil
}

// Mode selects which side of the group intersection survives.
type Mode int

const (
	// Drop removes users affiliated with any listed group.
	Drop Mode = iota
	// Keep retains only users affiliated with a listed group.
	Keep
)

// Result reports a filter run. LookupFailures counts users whose
// memberships could not be determined; those users are treated as
// having no memberships (fail-open) and each failure is
// logged, so partial results are never mistaken for complete ones.
type Result struct {
	Kept           usage.Usage
	Dropped        int
	LookupFailures int
}

// Filter applies group-based filtering to a usage mapping. Surviving
// users keep their measures untouched.
func Filter(ctx context.Context, u usage.Usage, groupSet map[string]struct{}, lookup Lookup, mode Mode, logger *log.Logger) (Result, error) {
	result := Result{Kept: make(usage.Usage, len(u))}

	for _, rec := range u.Records() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		memberships, err := lookup.GroupsOf(ctx, rec.User)
		if err != nil {
			result.LookupFailures++
			logger.Printf("group lookup failed for %s, treating as unaffiliated: %v", rec.User, err)
			memberships = nil
		}

		affiliated := intersects(memberships, groupSet)
		keep := (mode == Drop && !affiliated) || (mode == Keep && affiliated)
		if keep {
			result.Kept[rec.User] = rec.Seconds
		} else {
			result.Dropped++
		}
	}
	return result, nil
}

func intersects(memberships []string, set map[string]struct{}) bool {
	for _, g := range memberships {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}

// ParseSet builds the group set from a comma-separated list or a file
// with one group name per line; exactly one source must be given.
func ParseSet(list, file string) (map[string]struct{}, error) {
	if (list == "") == (file == "") {
		return nil, fmt.Errorf("exactly one of a group list or a group file is required")
	}

	set := make(map[string]struct{})
	if list != "" {
		for _, item := range strings.Split(list, ",") {
			if item = strings.TrimSpace(item); item != "" {
				set[item] = struct{}{}
			}
		}
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open group file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				set[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read group file: %w", err)
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("group set is empty")
	}
	return set, nil
}
