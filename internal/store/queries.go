package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Cycle operations

// InsertCycle records a cycle and its totals in one transaction and returns
// the new cycle ID.
func (s *Store) InsertCycle(c *Cycle) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO cycles (generation, period, outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		int64(c.Generation),
		c.Period,
		c.Outcome,
		c.Error,
		c.StartedAt.UTC().Format(time.RFC3339Nano),
		c.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("failed to insert cycle %d: %w", c.Generation, classify(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return 0, fmt.Errorf("failed to get cycle id: %w", err)
	}

	if len(c.Totals) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO cycle_totals (cycle_id, package, downloads) VALUES (?, ?, ?)`)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, fmt.Errorf("failed to prepare totals statement: %w", classify(err))
		}
		defer stmt.Close()

		for pkg, n := range c.Totals {
			if _, err := stmt.Exec(id, pkg, n); err != nil {
				tx.Rollback() //nolint:errcheck
				return 0, fmt.Errorf("failed to insert total for %s: %w", pkg, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cycle: %w", err)
	}

	c.ID = id
	return id, nil
}

// ListCycles returns the most recent cycles, newest first, with totals.
// A limit <= 0 returns every cycle.
func (s *Store) ListCycles(limit int) ([]*Cycle, error) {
	query := `
		SELECT id, generation, period, outcome, COALESCE(error, ''), started_at, finished_at
		FROM cycles
		ORDER BY id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", classify(err))
	}

	var cycles []*Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}
	rows.Close()

	// Totals are loaded after the cursor is closed: the pool has one connection.
	for _, c := range cycles {
		totals, err := s.GetCycleTotals(c.ID)
		if err != nil {
			return nil, err
		}
		c.Totals = totals
	}

	return cycles, nil
}

// LastCommitted returns the most recent committed cycle, or nil if none.
func (s *Store) LastCommitted() (*Cycle, error) {
	row := s.db.QueryRow(`
		SELECT id, generation, period, outcome, COALESCE(error, ''), started_at, finished_at
		FROM cycles
		WHERE outcome = 'committed'
		ORDER BY id DESC
		LIMIT 1
	`)

	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Totals, err = s.GetCycleTotals(c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCycleTotals returns package -> downloads for a cycle.
func (s *Store) GetCycleTotals(cycleID int64) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT package, downloads
		FROM cycle_totals
		WHERE cycle_id = ?
		ORDER BY package
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals for cycle %d: %w", cycleID, classify(err))
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var pkg string
		var n int64
		if err := rows.Scan(&pkg, &n); err != nil {
			return nil, fmt.Errorf("failed to scan total row: %w", err)
		}
		totals[pkg] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating totals: %w", err)
	}

	return totals, nil
}

// CountByOutcome returns how many cycles ended with each outcome.
func (s *Store) CountByOutcome() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM cycles GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count cycles: %w", classify(err))
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[outcome] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// PruneCycles deletes all but the newest keep cycles and returns how many
// were removed.
func (s *Store) PruneCycles(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.Exec(`
		DELETE FROM cycles
		WHERE id NOT IN (SELECT id FROM cycles ORDER BY id DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cycles: %w", classify(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*Cycle, error) {
	var c Cycle
	var generation int64
	var startedAt, finishedAt string

	err := row.Scan(&c.ID, &generation, &c.Period, &c.Outcome, &c.Error, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycle row: %w", classify(err))
	}
	c.Generation = uint64(generation)

	c.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for cycle %d: %w", c.ID, err)
	}
	c.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished_at for cycle %d: %w", c.ID, err)
	}

	return &c, nil
}
