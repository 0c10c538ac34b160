// Package memory is the in-memory DocumentStore used in development
// and tests. Documents are kept as serialized JSON so every fetch goes
// through the same round trip a persistent store would impose.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
)

type record struct {
	data      []byte
	name      string
	updatedAt time.Time
}

// Store keeps designs and templates in maps guarded by a RWMutex.
type Store struct {
	mu        sync.RWMutex
	designs   map[string]record
	templates map[string]record
}

var _ store.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{
		designs:   make(map[string]record),
		templates: make(map[string]record),
	}
}

func (s *Store) FetchDocument(ctx context.Context, id string) (*scene.Document, error) {
	s.mu.RLock()
	rec, ok := s.designs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return decode(rec.data)
}

func (s *Store) SaveDocument(ctx context.Context, id string, doc *scene.Document) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.designs[id] = record{data: data, updatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.designs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.designs, id)
	return nil
}

func (s *Store) SaveTemplate(ctx context.Context, name string, doc *scene.Document) (string, error) {
	data, err := encode(doc)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.templates[id] = record{data: data, name: name, updatedAt: time.Now()}
	s.mu.Unlock()
	return id, nil
}

func (s *Store) FetchTemplate(ctx context.Context, id string) (*scene.Document, error) {
	s.mu.RLock()
	rec, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrTemplateNotFound
	}
	return decode(rec.data)
}

func (s *Store) ListTemplates(ctx context.Context) ([]store.TemplateInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.TemplateInfo, 0, len(s.templates))
	for id, rec := range s.templates {
		out = append(out, store.TemplateInfo{ID: id, Name: rec.name, UpdatedAt: rec.updatedAt})
	}
	return out, nil
}

func encode(doc *scene.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("cannot save a nil document")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*scene.Document, error) {
	var doc scene.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return &doc, nil
}
