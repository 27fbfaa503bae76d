package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func ts(day int) time.Time {
	return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty cache, got %d records", len(records))
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentions.csv")
	records := map[int]Record{
		500: {ProposalID: 500, Count: 3, ThreadCount: 2, FirstSeen: ts(1), LastSeen: ts(5)},
		501: {ProposalID: 501, Count: 1, ThreadCount: 1, FirstSeen: ts(2), LastSeen: ts(2)},
	}

	if err := Write(path, records); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if len(loaded) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(loaded))
	}
	for id, want := range records {
		got, ok := loaded[id]
		if !ok {
			t.Fatalf("missing record for %d", id)
		}
		if got != want {
			t.Errorf("record %d mismatch: got %+v want %+v", id, got, want)
		}
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentions.csv")
	if err := Write(path, map[int]Record{
		7: {ProposalID: 7, Count: 1, ThreadCount: 1, FirstSeen: ts(1), LastSeen: ts(1)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "mentions.csv" {
		t.Errorf("expected only mentions.csv in dir, got %v", entries)
	}
}

func TestWritePreservesOldCacheOnInvariantViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentions.csv")
	good := map[int]Record{7: {ProposalID: 7, Count: 2, ThreadCount: 1, FirstSeen: ts(1), LastSeen: ts(2)}}
	if err := Write(path, good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := map[int]Record{7: {ProposalID: 7, Count: 1, ThreadCount: 2, FirstSeen: ts(1), LastSeen: ts(2)}}
	if err := Write(path, bad); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded[7].Count != 2 {
		t.Errorf("expected old cache to survive failed write, got %+v", loaded[7])
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentions.csv")
	if err := os.WriteFile(path, []byte("not,a,cache\n1,2\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := Load(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if !strings.Contains(corrupt.Error(), path) {
		t.Errorf("expected path in error, got %q", corrupt.Error())
	}
}

func TestLoadRejectsDuplicateProposal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mentions.csv")
	data := "proposal_id,mention_count,distinct_thread_count,first_seen,last_seen\n" +
		"5,1,1,2026-03-01T12:00:00Z,2026-03-01T12:00:00Z\n" +
		"5,2,1,2026-03-02T12:00:00Z,2026-03-02T12:00:00Z\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := Load(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError for duplicate row, got %v", err)
	}
}

func TestMergeSumsAndExtends(t *testing.T) {
	old := map[int]Record{
		500: {ProposalID: 500, Count: 3, ThreadCount: 2, FirstSeen: ts(1), LastSeen: ts(5)},
		400: {ProposalID: 400, Count: 1, ThreadCount: 1, FirstSeen: ts(2), LastSeen: ts(2)},
	}
	window := map[int]Record{
		500: {ProposalID: 500, Count: 1, ThreadCount: 1, FirstSeen: ts(10), LastSeen: ts(10)},
		600: {ProposalID: 600, Count: 2, ThreadCount: 2, FirstSeen: ts(9), LastSeen: ts(11)},
	}

	merged, err := Merge(old, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := merged[500]
	if got.Count != 4 || got.ThreadCount != 3 {
		t.Errorf("expected 500 -> count 4, threads 3, got %+v", got)
	}
	if !got.FirstSeen.Equal(ts(1)) || !got.LastSeen.Equal(ts(10)) {
		t.Errorf("expected 500 span %s..%s, got %s..%s", ts(1), ts(10), got.FirstSeen, got.LastSeen)
	}

	// Old-only proposal carried forward untouched
	if merged[400] != old[400] {
		t.Errorf("expected 400 carried forward, got %+v", merged[400])
	}
	// Window-only proposal appears as-is
	if merged[600] != window[600] {
		t.Errorf("expected 600 adopted from window, got %+v", merged[600])
	}
}

func TestMergeMonotonicity(t *testing.T) {
	old := map[int]Record{
		1: {ProposalID: 1, Count: 5, ThreadCount: 3, FirstSeen: ts(1), LastSeen: ts(8)},
		2: {ProposalID: 2, Count: 2, ThreadCount: 2, FirstSeen: ts(3), LastSeen: ts(4)},
	}
	window := map[int]Record{
		1: {ProposalID: 1, Count: 2, ThreadCount: 1, FirstSeen: ts(9), LastSeen: ts(9)},
	}

	merged, err := Merge(old, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, prev := range old {
		now := merged[id]
		if now.Count < prev.Count {
			t.Errorf("mention_count regressed for %d: %d -> %d", id, prev.Count, now.Count)
		}
		if now.ThreadCount < prev.ThreadCount {
			t.Errorf("thread_count regressed for %d: %d -> %d", id, prev.ThreadCount, now.ThreadCount)
		}
	}
}

func TestMergeEmptyWindowIsIdentity(t *testing.T) {
	old := map[int]Record{
		1: {ProposalID: 1, Count: 5, ThreadCount: 3, FirstSeen: ts(1), LastSeen: ts(8)},
	}
	merged, err := Merge(old, map[int]Record{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged) != 1 || merged[1] != old[1] {
		t.Errorf("expected identity merge, got %+v", merged)
	}
}

func TestMergeFirstSeenIgnoresZero(t *testing.T) {
	old := map[int]Record{
		1: {ProposalID: 1, Count: 0, ThreadCount: 0},
	}
	window := map[int]Record{
		1: {ProposalID: 1, Count: 1, ThreadCount: 1, FirstSeen: ts(4), LastSeen: ts(4)},
	}
	merged, err := Merge(old, window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !merged[1].FirstSeen.Equal(ts(4)) {
		t.Errorf("expected zero first_seen to be ignored, got %s", merged[1].FirstSeen)
	}
}

func TestMergeDetectsInvariantViolation(t *testing.T) {
	old := map[int]Record{
		1: {ProposalID: 1, Count: 1, ThreadCount: 1, FirstSeen: ts(5), LastSeen: ts(5)},
	}
	// Negative window counts can only come from a logic defect upstream.
	window := map[int]Record{
		1: {ProposalID: 1, Count: -2, ThreadCount: 0, FirstSeen: ts(6), LastSeen: ts(6)},
	}
	if _, err := Merge(old, window); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ok := Record{ProposalID: 1, Count: 2, ThreadCount: 1, FirstSeen: ts(1), LastSeen: ts(2)}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	reversed := Record{ProposalID: 1, Count: 1, ThreadCount: 1, FirstSeen: ts(2), LastSeen: ts(1)}
	if err := reversed.Validate(); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected invariant error for reversed span, got %v", err)
	}

	empty := Record{ProposalID: 1}
	if err := empty.Validate(); err != nil {
		t.Errorf("zero-count record should validate, got %v", err)
	}
}
