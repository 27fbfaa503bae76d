package store

import "database/sql"

// LastReport returns the most recent run report, or nil if none exist.
func (s *Store) LastReport() (*RunReport, error) {
	row := s.conn.QueryRow(
		`SELECT id, kind, period, started_at, finished_at, segments_ok, segments_failed,
			messages_parsed, messages_skipped, new_mentions
		FROM run_reports ORDER BY id DESC LIMIT 1`,
	)
	var r RunReport
	err := row.Scan(&r.ID, &r.Kind, &r.Period, &r.StartedAt, &r.FinishedAt,
		&r.SegmentsOK, &r.SegmentsFailed, &r.MessagesParsed, &r.MessagesSkipped, &r.NewMentions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetStats collects aggregate statistics for the status command.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	if err := s.conn.QueryRow("SELECT COUNT(*) FROM segments").Scan(&stats.Segments); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM segments WHERE merge_offset > 0").Scan(&stats.MergedSegments); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM proposals").Scan(&stats.Proposals); err != nil {
		return nil, err
	}
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM run_reports").Scan(&stats.Runs); err != nil {
		return nil, err
	}

	var last sql.NullString
	if err := s.conn.QueryRow("SELECT MAX(finished_at) FROM run_reports").Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		stats.LastRun = last.String
	}

	return stats, nil
}
