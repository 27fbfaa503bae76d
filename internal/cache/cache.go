// Package cache persists per-proposal mention statistics as a flat CSV
// file. The file is the sole hand-off artifact to the rendering stage and
// is only ever replaced atomically, so an interrupted run can never leave
// a partially written cache behind.
package cache

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Column order of the cache file. Timestamps are RFC 3339 UTC.
var columns = []string{"proposal_id", "mention_count", "distinct_thread_count", "first_seen", "last_seen"}

// Record is one persisted row: the aggregate mention statistics for a
// single proposal.
type Record struct {
	ProposalID  int
	Count       int
	ThreadCount int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Validate checks the record invariants: count >= distinct threads >= 0
// and first_seen <= last_seen whenever anything was counted.
func (r Record) Validate() error {
	if r.Count < 0 || r.ThreadCount < 0 {
		return fmt.Errorf("%w: KIP-%d has negative counts (%d mentions, %d threads)",
			ErrInvariant, r.ProposalID, r.Count, r.ThreadCount)
	}
	if r.ThreadCount > r.Count {
		return fmt.Errorf("%w: KIP-%d has more threads (%d) than mentions (%d)",
			ErrInvariant, r.ProposalID, r.ThreadCount, r.Count)
	}
	if r.Count > 0 && r.LastSeen.Before(r.FirstSeen) {
		return fmt.Errorf("%w: KIP-%d last_seen %s precedes first_seen %s",
			ErrInvariant, r.ProposalID, r.LastSeen.Format(time.RFC3339), r.FirstSeen.Format(time.RFC3339))
	}
	return nil
}

// ErrInvariant marks a merge result that violates the record invariants.
// It indicates a logic defect; callers must abort before writing.
var ErrInvariant = errors.New("merge invariant violation")

// CorruptError reports an unreadable or malformed cache file. The file is
// never repaired or overwritten on load; the user has to reinitialize
// explicitly.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("mention cache %s is corrupt: %v (re-run 'kipwatch run' after removing it to rebuild)", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Load reads the cache file into a proposal_id keyed map. A missing file
// is an empty cache, not an error.
func Load(path string) (map[int]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[int]Record{}, nil
	}
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if len(rows) == 0 {
		return map[int]Record{}, nil
	}
	if len(rows[0]) != len(columns) || rows[0][0] != columns[0] {
		return nil, &CorruptError{Path: path, Err: fmt.Errorf("unexpected header %v", rows[0])}
	}

	records := make(map[int]Record, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, &CorruptError{Path: path, Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
		if _, dup := records[rec.ProposalID]; dup {
			return nil, &CorruptError{Path: path, Err: fmt.Errorf("row %d: duplicate proposal_id %d", i+2, rec.ProposalID)}
		}
		records[rec.ProposalID] = rec
	}
	return records, nil
}

func parseRow(row []string) (Record, error) {
	if len(row) != len(columns) {
		return Record{}, fmt.Errorf("expected %d columns, got %d", len(columns), len(row))
	}

	var rec Record
	var err error
	if rec.ProposalID, err = strconv.Atoi(row[0]); err != nil {
		return Record{}, fmt.Errorf("proposal_id: %w", err)
	}
	if rec.Count, err = strconv.Atoi(row[1]); err != nil {
		return Record{}, fmt.Errorf("mention_count: %w", err)
	}
	if rec.ThreadCount, err = strconv.Atoi(row[2]); err != nil {
		return Record{}, fmt.Errorf("distinct_thread_count: %w", err)
	}
	if rec.FirstSeen, err = time.Parse(time.RFC3339, row[3]); err != nil {
		return Record{}, fmt.Errorf("first_seen: %w", err)
	}
	if rec.LastSeen, err = time.Parse(time.RFC3339, row[4]); err != nil {
		return Record{}, fmt.Errorf("last_seen: %w", err)
	}
	return rec, rec.Validate()
}

// Merge folds a freshly computed, window-scoped record set into the
// previously persisted cache. New mentions are additive: counts sum,
// first_seen takes the earliest non-zero side, last_seen the latest.
// Proposals only present in the old cache carry forward unchanged.
//
// Merge assumes the window does not overlap any previously merged window;
// enforcing that is the caller's job (the pipeline tracks per-segment merge
// offsets). Every result row is validated and an ErrInvariant aborts the
// merge with no partial result.
func Merge(old, window map[int]Record) (map[int]Record, error) {
	merged := make(map[int]Record, len(old)+len(window))
	for id, rec := range old {
		merged[id] = rec
	}

	for id, fresh := range window {
		prev, ok := merged[id]
		if !ok {
			merged[id] = fresh
			continue
		}
		merged[id] = Record{
			ProposalID:  id,
			Count:       prev.Count + fresh.Count,
			ThreadCount: prev.ThreadCount + fresh.ThreadCount,
			FirstSeen:   minSeen(prev.FirstSeen, fresh.FirstSeen),
			LastSeen:    maxSeen(prev.LastSeen, fresh.LastSeen),
		}
	}

	for _, rec := range merged {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// minSeen returns the earlier of two timestamps, ignoring zero values.
func minSeen(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func maxSeen(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Write replaces the cache file atomically: the rows are written to a
// temp file in the same directory and renamed over the target, so a crash
// mid-write leaves the previous cache intact. Rows are ordered by
// proposal_id for stable diffs.
func Write(path string, records map[int]Record) error {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(columns); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache header: %w", err)
	}

	ids := make([]int, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		rec := records[id]
		row := []string{
			strconv.Itoa(rec.ProposalID),
			strconv.Itoa(rec.Count),
			strconv.Itoa(rec.ThreadCount),
			rec.FirstSeen.UTC().Format(time.RFC3339),
			rec.LastSeen.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("writing cache row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing cache: %w", err)
	}
	return nil
}
