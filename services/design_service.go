package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
)

// DefaultSaveDelay is the quiet period of the debounced save: a burst
// of edits coalesces into one save that fires this long after the last
// mutation.
const DefaultSaveDelay = 500 * time.Millisecond

var (
	ErrDesignNotOpen    = errors.New("design is not open")
	ErrTextEditing      = errors.New("object deletion is suppressed while text is being edited")
	ErrConfirmationNeed = errors.New("loading a template replaces the current design and needs confirmation")
)

// SaveStatus is the transient persistence indicator surfaced to the
// authoring UI. A failed save keeps the in-memory document intact; the
// merchant keeps editing and the next mutation retries.
type SaveStatus struct {
	State   string    `json:"state"` // "idle", "pending", "saved", "failed"
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type openDesign struct {
	mu          sync.Mutex
	id          string
	surf        surface.Surface
	timer       *time.Timer
	status      SaveStatus
	version     int64
	activeIndex int
	textEditing bool
	unsubscribe func()
}

// DesignService is the authoring editor: it owns the open in-memory
// documents, applies every mutation through the rendering surface, and
// persists on a debounced schedule driven by the surface's events.
type DesignService struct {
	store      store.DocumentStore
	newSurface func() surface.Surface
	saveDelay  time.Duration

	mu   sync.Mutex
	open map[string]*openDesign
}

func NewDesignService(docStore store.DocumentStore, newSurface func() surface.Surface) *DesignService {
	return &DesignService{
		store:      docStore,
		newSurface: newSurface,
		saveDelay:  DefaultSaveDelay,
		open:       make(map[string]*openDesign),
	}
}

// Open loads a design for editing, creating an empty one when the id
// is unknown. Opening an already-open design is a no-op.
func (s *DesignService) Open(ctx context.Context, id string) (*scene.Document, error) {
	s.mu.Lock()
	if d, ok := s.open[id]; ok {
		s.mu.Unlock()
		return d.surf.Document(), nil
	}
	s.mu.Unlock()

	doc, err := s.store.FetchDocument(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to open design %s: %w", id, err)
		}
		doc = &scene.Document{Canvas: scene.Canvas{Width: 800, Height: 600}}
	}

	surf := s.newSurface()
	if err := surf.Load(doc); err != nil {
		return nil, fmt.Errorf("failed to load design %s onto surface: %w", id, err)
	}

	d := &openDesign{
		id:          id,
		surf:        surf,
		status:      SaveStatus{State: "idle", At: time.Now()},
		version:     doc.Version,
		activeIndex: -1,
	}
	// every structural or property change re-arms the debounced save
	d.unsubscribe = surf.Subscribe(func(surface.Event) {
		s.scheduleSave(d)
	})

	s.mu.Lock()
	if existing, ok := s.open[id]; ok {
		// lost the race to another Open; keep the first one
		s.mu.Unlock()
		d.unsubscribe()
		return existing.surf.Document(), nil
	}
	s.open[id] = d
	s.mu.Unlock()

	return surf.Document(), nil
}

// Close flushes any pending save and releases the open design.
func (s *DesignService) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	d, ok := s.open[id]
	if ok {
		delete(s.open, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrDesignNotOpen
	}

	d.mu.Lock()
	pending := d.timer != nil && d.timer.Stop()
	d.timer = nil
	d.mu.Unlock()
	d.unsubscribe()

	if pending {
		s.flush(ctx, d)
	}
	return nil
}

// Document returns a copy of the open design's current document.
func (s *DesignService) Document(id string) (*scene.Document, error) {
	d, ok := s.openDesign(id)
	if !ok {
		return nil, ErrDesignNotOpen
	}
	return d.surf.Document(), nil
}

// Status returns the design's persistence indicator.
func (s *DesignService) Status(id string) (SaveStatus, error) {
	d, ok := s.openDesign(id)
	if !ok {
		return SaveStatus{}, ErrDesignNotOpen
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, nil
}

// AddObject places a new object on top of the stack. An object without
// an explicit position is centered on the canvas.
func (s *DesignService) AddObject(id string, obj scene.Object) (int, error) {
	d, ok := s.openDesign(id)
	if !ok {
		return 0, ErrDesignNotOpen
	}
	if obj.ScaleX == 0 {
		obj.ScaleX = 1
	}
	if obj.ScaleY == 0 {
		obj.ScaleY = 1
	}
	if !obj.Visible {
		obj.Visible = true
	}
	if obj.Left == 0 && obj.Top == 0 {
		doc := d.surf.Document()
		w, h := obj.Box()
		obj.Left = (doc.Canvas.Width - w) / 2
		obj.Top = (doc.Canvas.Height - h) / 2
	}
	return d.surf.AddObject(obj)
}

// UpdateObject replaces the object at index with the patched version
// coming from the property panel.
func (s *DesignService) UpdateObject(id string, index int, obj scene.Object) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	if obj.Required && !obj.Kind.Editable() {
		return fmt.Errorf("%s objects cannot be required", obj.Kind)
	}
	return d.surf.SetObject(index, obj)
}

// RemoveObject deletes the object at index.
func (s *DesignService) RemoveObject(id string, index int) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	d.mu.Lock()
	if index == d.activeIndex {
		d.activeIndex = -1
	} else if index < d.activeIndex {
		d.activeIndex--
	}
	d.mu.Unlock()
	return d.surf.RemoveObject(index)
}

// MoveObject reorders the stack: the object is removed at from and
// reinserted at to, which renumbers the z-order of everything between.
func (s *DesignService) MoveObject(id string, from, to int) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	return d.surf.MoveObject(from, to)
}

// SetTransform applies a canvas drag, resize or rotate gesture to the
// object at index.
func (s *DesignService) SetTransform(id string, index int, left, top, scaleX, scaleY, angle float64) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	if scaleX <= 0 || scaleY <= 0 {
		return fmt.Errorf("scale must be positive, got %g x %g", scaleX, scaleY)
	}
	return d.surf.SetTransform(index, left, top, scaleX, scaleY, angle)
}

// SetVisible toggles a layer's visibility.
func (s *DesignService) SetVisible(id string, index int, visible bool) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	obj, found := d.surf.Object(index)
	if !found {
		return fmt.Errorf("object index %d out of range", index)
	}
	obj.Visible = visible
	return d.surf.SetObject(index, obj)
}

// SetLocked toggles a layer's lock.
func (s *DesignService) SetLocked(id string, index int, locked bool) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	return d.surf.SetLocked(index, locked)
}

// SetActive tracks the selected object and whether it is in direct
// text-edit mode. Delete-key handling depends on this.
func (s *DesignService) SetActive(id string, index int, textEditing bool) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	d.mu.Lock()
	d.activeIndex = index
	d.textEditing = textEditing
	d.mu.Unlock()
	return nil
}

// RemoveActive deletes the selected object, except while its text is
// being edited: Delete and Backspace must not destroy the object the
// merchant is typing into.
func (s *DesignService) RemoveActive(id string) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	d.mu.Lock()
	index, editing := d.activeIndex, d.textEditing
	d.mu.Unlock()
	if index < 0 {
		return fmt.Errorf("no object selected")
	}
	if editing {
		return ErrTextEditing
	}
	return s.RemoveObject(id, index)
}

// SaveTemplate clones the whole current document as a new named
// template. The clone is saved immediately, not debounced.
func (s *DesignService) SaveTemplate(ctx context.Context, id, name string) (string, error) {
	d, ok := s.openDesign(id)
	if !ok {
		return "", ErrDesignNotOpen
	}
	doc := d.surf.Document()
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("cannot save template from invalid design: %w", err)
	}
	return s.store.SaveTemplate(ctx, name, doc)
}

// LoadTemplate replaces the open design's document with the template,
// discarding the current content. The caller confirms on behalf of the
// merchant; this is destructive and cannot be undone in-session.
func (s *DesignService) LoadTemplate(ctx context.Context, id, templateID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationNeed
	}
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	doc, err := s.store.FetchTemplate(ctx, templateID)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", templateID, err)
	}
	if err := d.surf.Load(doc); err != nil {
		return fmt.Errorf("failed to load template onto surface: %w", err)
	}
	d.mu.Lock()
	d.activeIndex = -1
	d.textEditing = false
	d.mu.Unlock()
	// Load emits no events, so arm the save explicitly
	s.scheduleSave(d)
	return nil
}

// ListTemplates lists the saved templates.
func (s *DesignService) ListTemplates(ctx context.Context) ([]store.TemplateInfo, error) {
	return s.store.ListTemplates(ctx)
}

// Flush forces any pending debounced save to run now.
func (s *DesignService) Flush(ctx context.Context, id string) error {
	d, ok := s.openDesign(id)
	if !ok {
		return ErrDesignNotOpen
	}
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	s.flush(ctx, d)
	return nil
}

func (s *DesignService) openDesign(id string) (*openDesign, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.open[id]
	return d, ok
}

// scheduleSave cancels the pending save, if any, and arms a new one.
// At most one save is pending per design at any time.
func (s *DesignService) scheduleSave(d *openDesign) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.status = SaveStatus{State: "pending", At: time.Now()}
	d.timer = time.AfterFunc(s.saveDelay, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.flush(ctx, d)
	})
}

func (s *DesignService) flush(ctx context.Context, d *openDesign) {
	d.mu.Lock()
	d.version++
	version := d.version
	d.mu.Unlock()

	// the version is stamped on the outgoing snapshot only; the surface
	// never sees it, so edits landing mid-save are untouched
	doc := d.surf.Document()
	doc.Version = version
	err := s.store.SaveDocument(ctx, d.id, doc)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		// in-memory state is kept; the failure only shows as a status
		log.Printf("Design %s: save failed: %v", d.id, err)
		d.status = SaveStatus{State: "failed", Message: err.Error(), At: time.Now()}
		return
	}
	d.status = SaveStatus{State: "saved", At: time.Now()}
}
