package store

// ReplaceProposals swaps in a freshly fetched proposal set. The set is
// small and authoritative, so it is always a full refresh.
func (s *Store) ReplaceProposals(proposals []Proposal) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM proposals"); err != nil {
		tx.Rollback()
		return err
	}

	for _, p := range proposals {
		if _, err := tx.Exec(
			`INSERT INTO proposals (id, title, status, author) VALUES (?, ?, ?, ?)`,
			p.ID, p.Title, p.Status, p.Author,
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetProposals returns the last successfully fetched proposal set,
// ordered by id. An empty slice means no set was ever persisted.
func (s *Store) GetProposals() ([]Proposal, error) {
	rows, err := s.conn.Query(
		`SELECT id, title, status, author, fetched_at FROM proposals ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		var p Proposal
		if err := rows.Scan(&p.ID, &p.Title, &p.Status, &p.Author, &p.FetchedAt); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
