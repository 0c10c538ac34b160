// Package store defines the document persistence boundary. The engine
// only depends on this interface; round-trip fidelity of the object
// order is the one hard requirement every implementation must honor.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

var (
	ErrNotFound         = errors.New("design not found")
	ErrTemplateNotFound = errors.New("template not found")
)

// TemplateInfo is the listing entry for a saved template.
type TemplateInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentStore persists scene documents and named templates.
// Implementations serialize whole documents, never individual objects,
// so the object order always survives a round trip.
type DocumentStore interface {
	FetchDocument(ctx context.Context, id string) (*scene.Document, error)
	SaveDocument(ctx context.Context, id string, doc *scene.Document) error
	DeleteDocument(ctx context.Context, id string) error

	SaveTemplate(ctx context.Context, name string, doc *scene.Document) (string, error)
	FetchTemplate(ctx context.Context, id string) (*scene.Document, error)
	ListTemplates(ctx context.Context) ([]TemplateInfo, error)
}
