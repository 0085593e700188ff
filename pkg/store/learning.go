package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"litcritic/pkg/learning"
)

// The learning table holds a single row (id = 1) per database; entries hang
// off it by category.

// LoadLearning reads the project's learning state, creating the singleton
// row on first use.
func (s *Store) LoadLearning(ctx context.Context, projectName string) (*learning.Learning, error) {
	var (
		name  string
		count int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT project_name, review_count FROM learning WHERE id = 1`).Scan(&name, &count)
	if err == sql.ErrNoRows {
		err = s.withRetry(ctx, func() error {
			_, err := s.db.ExecContext(ctx, s.q(
				`INSERT INTO learning (id, project_name, review_count, updated_at) VALUES (1, ?, 0, ?)`),
				projectName, time.Now().UTC())
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create learning record: %w", err)
		}
		return learning.New(projectName), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query learning record: %w", err)
	}

	l := learning.New(name)
	l.ReviewCount = count

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, description FROM learning_entry WHERE learning_id = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e        learning.Entry
			category string
		)
		if err := rows.Scan(&e.ID, &category, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan learning entry: %w", err)
		}
		if err := l.AddEntry(category, e); err != nil {
			return nil, fmt.Errorf("failed to load learning entry %d: %w", e.ID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating learning entries: %w", err)
	}
	return l, nil
}

// SaveLearningMeta writes the learning row's name and review count.
func (s *Store) SaveLearningMeta(ctx context.Context, l *learning.Learning) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.q(
			`UPDATE learning SET project_name = ?, review_count = ?, updated_at = ? WHERE id = 1`),
			l.ProjectName, l.ReviewCount, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to update learning record: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		_, err = s.db.ExecContext(ctx, s.q(
			`INSERT INTO learning (id, project_name, review_count, updated_at) VALUES (1, ?, ?, ?)`),
			l.ProjectName, l.ReviewCount, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert learning record: %w", err)
		}
		return nil
	})
}

// InsertLearningEntry appends one entry and returns its generated id.
func (s *Store) InsertLearningEntry(ctx context.Context, category, description string) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func() error {
		if s.dialect == DialectPostgres {
			return s.db.QueryRowContext(ctx, s.q(
				`INSERT INTO learning_entry (learning_id, category, description, created_at) VALUES (1, ?, ?, ?) RETURNING id`),
				category, description, time.Now().UTC()).Scan(&id)
		}
		res, err := s.db.ExecContext(ctx, s.q(
			`INSERT INTO learning_entry (learning_id, category, description, created_at) VALUES (1, ?, ?, ?)`),
			category, description, time.Now().UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert learning entry: %w", err)
	}
	return id, nil
}

// ResetLearning drops the learning row; entries cascade. The next
// LoadLearning starts fresh.
func (s *Store) ResetLearning(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM learning WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to reset learning: %w", err)
		}
		return nil
	})
}
