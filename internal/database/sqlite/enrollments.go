package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/pgvector/pgvector-go"
)

// Enqueue records a template that still has to be pushed.
func (s *Store) Enqueue(ctx context.Context, tpl database.FaceTemplate) (*database.PendingEnrollment, error) {
	if err := database.ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	p := &database.PendingEnrollment{
		ID:        uuid.NewString(),
		Template:  tpl.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_enrollments (id, identity, display_name, embedding, template_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, tpl.Identity, tpl.DisplayName, pgvector.NewVector(tpl.Embedding),
		formatTime(tpl.UpdatedAt), formatTime(p.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("enqueue enrollment %s: %w", tpl.Identity, err)
	}
	return p, nil
}

// ListPendingEnrollments returns enrollments without a successful push, oldest first.
func (s *Store) ListPendingEnrollments(ctx context.Context) ([]database.PendingEnrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, display_name, embedding, template_updated_at, created_at, attempts, last_error, pushed_at
		FROM pending_enrollments
		WHERE pushed_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending enrollments: %w", err)
	}
	defer rows.Close()

	var out []database.PendingEnrollment
	for rows.Next() {
		var (
			p                    database.PendingEnrollment
			vec                  pgvector.Vector
			updatedAt, createdAt string
			pushedAt             sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Template.Identity, &p.Template.DisplayName, &vec,
			&updatedAt, &createdAt, &p.Attempts, &p.LastError, &pushedAt); err != nil {
			return nil, fmt.Errorf("scan pending enrollment: %w", err)
		}
		p.Template.Embedding = vec.Slice()
		if p.Template.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if p.PushedAt, err = parseNullTime(pushedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending enrollments: %w", err)
	}
	return out, nil
}

// MarkPushed records a successful push.
func (s *Store) MarkPushed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_enrollments SET pushed_at = ?, last_error = '' WHERE id = ?
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark enrollment %s pushed: %w", id, err)
	}
	return nil
}

// MarkFailed increments the attempt counter and keeps the last error.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_enrollments SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("mark enrollment %s failed: %w", id, err)
	}
	return nil
}
