package sqlite

import (
	"context"
	"fmt"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/pgvector/pgvector-go"
)

// ListTemplates returns all cached templates.
func (s *Store) ListTemplates(ctx context.Context) ([]database.FaceTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, display_name, embedding, status, updated_at
		FROM face_templates
		ORDER BY identity
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []database.FaceTemplate
	for rows.Next() {
		var (
			tpl       database.FaceTemplate
			vec       pgvector.Vector
			updatedAt string
		)
		if err := rows.Scan(&tpl.Identity, &tpl.DisplayName, &vec, &tpl.Status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.Embedding = vec.Slice()
		if tpl.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// ReplaceTemplates swaps the whole template cache in one transaction.
func (s *Store) ReplaceTemplates(ctx context.Context, templates []database.FaceTemplate) error {
	if err := database.ValidateTemplates(templates); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_templates"); err != nil {
		return fmt.Errorf("clear templates: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO face_templates (identity, display_name, embedding, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			display_name = excluded.display_name,
			embedding = excluded.embedding,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= face_templates.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare template insert: %w", err)
	}
	defer stmt.Close()

	for i := range templates {
		tpl := &templates[i]
		if _, err := stmt.ExecContext(ctx, tpl.Identity, tpl.DisplayName,
			pgvector.NewVector(tpl.Embedding), statusOrActive(tpl.Status), formatTime(tpl.UpdatedAt)); err != nil {
			return fmt.Errorf("insert template %s: %w", tpl.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit templates: %w", err)
	}
	return nil
}

// UpsertTemplate stores or updates one template by identity.
func (s *Store) UpsertTemplate(ctx context.Context, tpl database.FaceTemplate) error {
	if err := database.ValidateTemplate(tpl); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_templates (identity, display_name, embedding, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			display_name = excluded.display_name,
			embedding = excluded.embedding,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, tpl.Identity, tpl.DisplayName, pgvector.NewVector(tpl.Embedding), statusOrActive(tpl.Status), formatTime(tpl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", tpl.Identity, err)
	}
	return nil
}

func statusOrActive(status string) string {
	if status == "" {
		return database.TemplateStatusActive
	}
	return status
}
