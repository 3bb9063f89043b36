package usage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWriteFileOrdering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-01.txt")

	u := Usage{"alice": 100, "bob": 500, "carol": 100}
	if err := WriteFile(path, u); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "bob 500\nalice 100\ncarol 100\n"
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, string(data))
	}
}

func TestWriteFileLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(filepath.Join(dir, "2024-01.txt"), Usage{"alice": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-02.txt")

	u := Usage{"alice": 120, "bob": 50, "carol": 0}
	if err := WriteFile(path, u); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, skipped, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("expected no skipped lines, got %d", skipped)
	}
	if len(got) != len(u) {
		t.Fatalf("expected %d users, got %d", len(u), len(got))
	}
	for user, seconds := range u {
		if got[user] != seconds {
			t.Fatalf("user %s: expected %d, got %d", user, seconds, got[user])
		}
	}
}

func TestReadFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-03.txt")
	writeTestFile(t, path, "alice 100\nbroken\nbob notanumber\n\ncarol 7\n")

	got, skipped, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skipped lines, got %d", skipped)
	}
	if got["alice"] != 100 || got["carol"] != 7 || len(got) != 2 {
		t.Fatalf("unexpected usage: %v", got)
	}
}

func TestReadFileSumsDuplicateUsers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2024-04.txt")
	writeTestFile(t, path, "alice 100\nalice 20\n")

	got, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["alice"] != 120 {
		t.Fatalf("duplicate users must sum, got %d", got["alice"])
	}
}

func TestMergeDir(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "2024-01.txt"), "alice 100\nbob 50\n")
	writeTestFile(t, filepath.Join(dir, "2024-02.txt"), "alice 20\n")
	writeTestFile(t, filepath.Join(dir, "notes.md"), "ignore me\n")

	total, stats, err := MergeDir(dir)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if stats.Files != 2 {
		t.Fatalf("expected 2 input files, got %d", stats.Files)
	}
	if total["alice"] != 120 || total["bob"] != 50 || len(total) != 2 {
		t.Fatalf("unexpected totals: %v", total)
	}
}

func TestMergeDirNoInputFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "readme.txt"), "not a monthly file\n")

	_, _, err := MergeDir(dir)
	if !errors.Is(err, ErrNoInputFiles) {
		t.Fatalf("expected ErrNoInputFiles, got %v", err)
	}
}

func TestMergeIsAssociativeAndCommutative(t *testing.T) {
	a := Usage{"alice": 10, "bob": 5}
	b := Usage{"alice": 3, "carol": 8}
	c := Usage{"bob": 2}

	left := make(Usage)
	left.Merge(a)
	left.Merge(b)
	left.Merge(c)

	right := make(Usage)
	right.Merge(c)
	right.Merge(b)
	right.Merge(a)

	if len(left) != len(right) {
		t.Fatalf("merge order changed user set: %v vs %v", left, right)
	}
	for user, seconds := range left {
		if right[user] != seconds {
			t.Fatalf("user %s: %d vs %d", user, seconds, right[user])
		}
	}
	if left["alice"] != 13 || left["bob"] != 7 || left["carol"] != 8 {
		t.Fatalf("unexpected merged totals: %v", left)
	}
}
