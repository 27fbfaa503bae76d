package archive

import (
	"reflect"
	"testing"
	"time"
)

func TestMonthsBetweenSameMonth(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got := MonthsBetween(now.AddDate(0, 0, -1), now)
	want := []YearMonth{{2026, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMonthsBetweenYearBoundary(t *testing.T) {
	then := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	got := MonthsBetween(then, now)
	want := []YearMonth{{2025, 11}, {2025, 12}, {2026, 1}, {2026, 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMonthsBetweenReversedRange(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	got := MonthsBetween(now.AddDate(0, 0, 10), now)
	want := []YearMonth{{2026, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMonthsBack(t *testing.T) {
	now := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	got := MonthsBack(now, 40)
	want := []YearMonth{{2026, 1}, {2026, 2}, {2026, 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
