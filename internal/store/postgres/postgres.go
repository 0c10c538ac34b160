// Package postgres is the pgx-backed DocumentStore. Documents are
// stored as a single JSONB column per row; JSON arrays keep their
// order, which is what guarantees z-order and field-index fidelity
// across round trips.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
)

// Store persists designs and templates in two tables:
//
//	designs   (id TEXT PRIMARY KEY, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL)
//	templates (id UUID PRIMARY KEY, name TEXT NOT NULL, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL)
type Store struct {
	db *pgxpool.Pool
}

var _ store.DocumentStore = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) FetchDocument(ctx context.Context, id string) (*scene.Document, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM designs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch design %s: %w", id, err)
	}
	var doc scene.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("stored design %s is malformed: %w", id, err)
	}
	return &doc, nil
}

func (s *Store) SaveDocument(ctx context.Context, id string, doc *scene.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	query := `
		INSERT INTO designs (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, id, data); err != nil {
		return fmt.Errorf("failed to save design %s: %w", id, err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM designs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete design %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveTemplate(ctx context.Context, name string, doc *scene.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize template: %w", err)
	}
	id := uuid.NewString()
	query := `
		INSERT INTO templates (id, name, doc, updated_at)
		VALUES ($1, $2, $3, NOW())
	`
	if _, err := s.db.Exec(ctx, query, id, name, data); err != nil {
		return "", fmt.Errorf("failed to save template %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) FetchTemplate(ctx context.Context, id string) (*scene.Document, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM templates WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to fetch template %s: %w", id, err)
	}
	var doc scene.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("stored template %s is malformed: %w", id, err)
	}
	return &doc, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]store.TemplateInfo, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, updated_at FROM templates ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []store.TemplateInfo
	for rows.Next() {
		var info store.TemplateInfo
		var id uuid.UUID
		if err := rows.Scan(&id, &info.Name, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		info.ID = id.String()
		out = append(out, info)
	}
	return out, rows.Err()
}
