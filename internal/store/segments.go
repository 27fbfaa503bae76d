package store

import (
	"database/sql"
	"time"
)

// UpsertSegment stores a freshly fetched segment body. Re-fetching a
// segment replaces the raw text but keeps the merge offset, which is
// what makes additive merging safe. fetchedAt is the fetcher's clock,
// recorded so a later run can tell whether the copy was taken while the
// month was still growing.
func (s *Store) UpsertSegment(list string, year, month int, raw string, fetchedAt time.Time) error {
	_, err := s.conn.Exec(
		`INSERT INTO segments (list, year, month, raw, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(list, year, month) DO UPDATE SET
			raw = excluded.raw,
			fetched_at = excluded.fetched_at`,
		list, year, month, raw, fetchedAt.UTC().Format(fetchedAtLayout),
	)
	return err
}

// GetSegment returns a stored segment, or nil if it was never fetched.
func (s *Store) GetSegment(list string, year, month int) (*Segment, error) {
	row := s.conn.QueryRow(
		`SELECT list, year, month, raw, fetched_at, merge_offset
		FROM segments WHERE list = ? AND year = ? AND month = ?`,
		list, year, month,
	)
	var seg Segment
	err := row.Scan(&seg.List, &seg.Year, &seg.Month, &seg.Raw, &seg.FetchedAt, &seg.MergeOffset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

// GetSegments returns all stored segments for a list in archive order.
func (s *Store) GetSegments(list string) ([]Segment, error) {
	rows, err := s.conn.Query(
		`SELECT list, year, month, raw, fetched_at, merge_offset
		FROM segments WHERE list = ? ORDER BY year, month`, list,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.List, &seg.Year, &seg.Month, &seg.Raw, &seg.FetchedAt, &seg.MergeOffset); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// LastMergedMonth returns the latest (year, month) for the list with a
// non-zero merge offset. ok is false when nothing was ever merged.
func (s *Store) LastMergedMonth(list string) (year, month int, ok bool, err error) {
	row := s.conn.QueryRow(
		`SELECT year, month FROM segments
		WHERE list = ? AND merge_offset > 0
		ORDER BY year DESC, month DESC LIMIT 1`, list,
	)
	err = row.Scan(&year, &month)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return year, month, true, nil
}

// SegmentOffset is a pending merge-offset advance for one segment.
type SegmentOffset struct {
	List   string
	Year   int
	Month  int
	Offset int
}

// CommitMerge advances merge offsets and records the run report in a
// single transaction. The pipeline calls this only after the cache file
// has been atomically replaced.
func (s *Store) CommitMerge(offsets []SegmentOffset, report RunReport) (int64, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return 0, err
	}

	for _, o := range offsets {
		if _, err := tx.Exec(
			`UPDATE segments SET merge_offset = ? WHERE list = ? AND year = ? AND month = ?`,
			o.Offset, o.List, o.Year, o.Month,
		); err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	result, err := tx.Exec(
		`INSERT INTO run_reports (kind, period, finished_at, segments_ok, segments_failed,
			messages_parsed, messages_skipped, new_mentions)
		VALUES (?, ?, datetime('now'), ?, ?, ?, ?, ?)`,
		report.Kind, report.Period, report.SegmentsOK, report.SegmentsFailed,
		report.MessagesParsed, report.MessagesSkipped, report.NewMentions,
	)
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
