package usage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteAtomic writes a file via a temporary sibling and a rename, so an
// interrupted stage never leaves a half-written output behind.
func WriteAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

// WriteFile writes "<user> <seconds>" lines, highest usage first.
// An existing file at path is replaced.
func WriteFile(path string, u Usage) error {
	return WriteAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, rec := range u.Records() {
			if _, err := fmt.Fprintf(bw, "%s %d\n", rec.User, rec.Seconds); err != nil {
				return fmt.Errorf("write usage line: %w", err)
			}
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush usage file: %w", err)
		}
		return nil
	})
}

// ReadRecords parses a two-column usage file preserving line order.
// Malformed lines are skipped and counted, never fatal.
func ReadRecords(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open usage file: %w", err)
	}
	defer f.Close()

	var (
		records []Record
		skipped int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			skipped++
			continue
		}
		seconds, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, Record{User: fields[0], Seconds: seconds})
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read usage file %s: %w", path, err)
	}
	return records, skipped, nil
}

// ReadFile parses a usage file into a mapping. Duplicate user lines are
// summed, not overwritten.
func ReadFile(path string) (Usage, int, error) {
	records, skipped, err := ReadRecords(path)
	if err != nil {
		return nil, skipped, err
	}
	u := make(Usage, len(records))
	for _, rec := range records {
		u.Add(rec.User, rec.Seconds)
	}
	return u, skipped, nil
}

// MergeStats reports what MergeDir consumed.
type MergeStats struct {
	Files        int
	SkippedLines int
}

// MergeDir sums every monthly usage file (YYYY-MM.txt) found in dir.
// Other files are ignored. Zero matching files is an error: an empty
// input set means the monthly stage never ran for this directory.
func MergeDir(dir string) (Usage, MergeStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, MergeStats{}, fmt.Errorf("read data directory: %w", err)
	}

	total := make(Usage)
	var stats MergeStats
	for _, entry := range entries {
		if entry.IsDir() || !monthlyFileName.MatchString(entry.Name()) {
			continue
		}
		part, skipped, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, stats, err
		}
		total.Merge(part)
		stats.Files++
		stats.SkippedLines += skipped
	}
	if stats.Files == 0 {
		return nil, stats, fmt.Errorf("%w in %s", ErrNoInputFiles, dir)
	}
	return total, stats, nil
}
