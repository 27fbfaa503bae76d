package store

import (
	"fmt"
	"time"
)

// Segment is one monthly archive chunk as delivered by the source.
// Raw is immutable once a month closes; the current month grows until it
// rolls over. MergeOffset is the number of leading messages whose mentions
// are already merged into the cache (mbox archives are append-only, so the
// prefix is stable).
type Segment struct {
	List        string
	Year        int
	Month       int
	Raw         string
	FetchedAt   *string
	MergeOffset int
}

// Key identifies a segment, e.g. "dev-2026-08".
func (s Segment) Key() string {
	return fmt.Sprintf("%s-%04d-%02d", s.List, s.Year, s.Month)
}

// IsOpen reports whether the segment covers the current, still-growing
// month.
func (s Segment) IsOpen(now time.Time) bool {
	now = now.UTC()
	return s.Year == now.Year() && s.Month == int(now.Month())
}

// fetchedAtLayout is SQLite's datetime('now') format, stored in UTC.
const fetchedAtLayout = "2006-01-02 15:04:05"

// FetchedWhileOpen reports whether the stored copy was taken before the
// segment's month had rolled over. Such a copy can miss mail that arrived
// between the fetch and the rollover, so it must not be treated as the
// final version of a closed month. Unknown fetch times count as open.
func (s Segment) FetchedWhileOpen() bool {
	if s.FetchedAt == nil {
		return true
	}
	fetched, err := time.Parse(fetchedAtLayout, *s.FetchedAt)
	if err != nil {
		return true
	}
	monthEnd := time.Date(s.Year, time.Month(s.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return fetched.Before(monthEnd)
}

// Proposal is one improvement proposal as known to the wiki. The set is
// read-only reference data for the pipeline.
type Proposal struct {
	ID        int
	Title     string
	Status    string
	Author    string
	FetchedAt *string
}

// RunReport holds the outcome summary of one pipeline run.
type RunReport struct {
	ID              int64
	Kind            string // "run", "update", or "process"
	Period          string
	StartedAt       *string
	FinishedAt      *string
	SegmentsOK      int
	SegmentsFailed  int
	MessagesParsed  int
	MessagesSkipped int
	NewMentions     int
}

// Stats contains aggregate store statistics for the status command.
type Stats struct {
	Segments       int
	MergedSegments int
	Proposals      int
	Runs           int
	LastRun        string
}
