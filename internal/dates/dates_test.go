package dates

import (
	"errors"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	got, err := Parse("2024-03-07")
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	if got.IsMonth || !got.Value.Equal(day(2024, time.March, 7)) {
		t.Fatalf("unexpected day spec: %+v", got)
	}

	got, err = Parse("2024-03")
	if err != nil {
		t.Fatalf("parse month: %v", err)
	}
	if !got.IsMonth || !got.Value.Equal(day(2024, time.March, 1)) {
		t.Fatalf("unexpected month spec: %+v", got)
	}
}

func TestParseRejectsNonexistentDate(t *testing.T) {
	_, err := Parse("2025-04-31")
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for 2025-04-31, got %v", err)
	}

	_, err = Parse("not-a-date")
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for garbage input, got %v", err)
	}
}

func TestMonthsFullMonths(t *testing.T) {
	start := Spec{Value: day(2024, time.January, 1)}
	end := Spec{Value: day(2024, time.March, 31)}

	got, err := Months(start, &end, day(2024, time.December, 1))
	if err != nil {
		t.Fatalf("months: %v", err)
	}

	want := []Range{
		{day(2024, time.January, 1), day(2024, time.January, 31)},
		{day(2024, time.February, 1), day(2024, time.February, 29)},
		{day(2024, time.March, 1), day(2024, time.March, 31)},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("chunk %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestMonthsCurrentMonthCappedAtToday(t *testing.T) {
	start := Spec{Value: day(2024, time.August, 1), IsMonth: true}
	today := day(2024, time.August, 15)

	got, err := Months(start, nil, today)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(got))
	}
	if !got[0].Start.Equal(day(2024, time.August, 1)) || !got[0].End.Equal(today) {
		t.Fatalf("expected 2024-08-01..2024-08-15, got %v", got[0])
	}
}

func TestMonthsClipsPartialEdges(t *testing.T) {
	start := Spec{Value: day(2024, time.January, 15)}
	end := Spec{Value: day(2024, time.March, 10)}

	got, err := Months(start, &end, day(2025, time.January, 1))
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if !got[0].Start.Equal(day(2024, time.January, 15)) {
		t.Fatalf("first chunk should start at range start, got %v", got[0])
	}
	if !got[2].End.Equal(day(2024, time.March, 10)) {
		t.Fatalf("last chunk should end at range end, got %v", got[2])
	}
}

func TestMonthsMonthGranularityEnd(t *testing.T) {
	start := Spec{Value: day(2024, time.February, 1), IsMonth: true}
	end := Spec{Value: day(2024, time.February, 1), IsMonth: true}

	got, err := Months(start, &end, day(2024, time.June, 1))
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(got) != 1 || !got[0].End.Equal(day(2024, time.February, 29)) {
		t.Fatalf("expected single full February chunk, got %v", got)
	}
}

func TestMonthsStartAfterEnd(t *testing.T) {
	start := Spec{Value: day(2024, time.May, 2)}
	end := Spec{Value: day(2024, time.May, 1)}

	_, err := Months(start, &end, day(2024, time.June, 1))
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	// A start beyond today with no explicit end resolves to start > today.
	_, err = Months(Spec{Value: day(2030, time.January, 1)}, nil, day(2024, time.June, 1))
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for future start, got %v", err)
	}
}

func TestMonthsAreContiguousAndCover(t *testing.T) {
	start := Spec{Value: day(2023, time.November, 20)}
	end := Spec{Value: day(2024, time.April, 5)}
	today := day(2024, time.March, 12)

	got, err := Months(start, &end, today)
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if !got[0].Start.Equal(start.Value) {
		t.Fatalf("coverage should begin at start, got %v", got[0].Start)
	}
	if !got[len(got)-1].End.Equal(today) {
		t.Fatalf("coverage should end at today, got %v", got[len(got)-1].End)
	}
	for i, r := range got {
		if r.Start.After(r.End) {
			t.Fatalf("chunk %d inverted: %v", i, r)
		}
		if r.Start.Month() != r.End.Month() || r.Start.Year() != r.End.Year() {
			t.Fatalf("chunk %d spans months: %v", i, r)
		}
		if i > 0 && !r.Start.Equal(got[i-1].End.AddDate(0, 0, 1)) {
			t.Fatalf("chunk %d not contiguous with predecessor: %v after %v", i, r, got[i-1])
		}
	}
}
