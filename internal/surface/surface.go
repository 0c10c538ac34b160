// Package surface defines the contract the engine draws on: an
// object-indexed scene graph that can load a design document, mutate
// individual objects, measure rendered text, and notify subscribers of
// structural changes.
package surface

import (
	"image"
	"io"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

// EventKind identifies what happened to the object list.
type EventKind string

const (
	ObjectAdded    EventKind = "object:added"
	ObjectRemoved  EventKind = "object:removed"
	ObjectModified EventKind = "object:modified"
)

// Event is delivered to subscribers after an object mutation. Index is
// the position of the affected object at the time of the event.
type Event struct {
	Kind  EventKind
	Index int
}

// Surface is the rendering boundary of the engine. Implementations
// own a copy of the loaded document; mutations go through the typed
// setters so subscribers see every change.
type Surface interface {
	// Load replaces the surface content with doc. It does not emit
	// events; callers that need a save after a wholesale replace
	// schedule it themselves.
	Load(doc *scene.Document) error
	// Document returns a deep copy of the current document.
	Document() *scene.Document

	ObjectCount() int
	Object(index int) (scene.Object, bool)

	AddObject(obj scene.Object) (int, error)
	RemoveObject(index int) error
	MoveObject(from, to int) error
	SetObject(index int, obj scene.Object) error

	SetText(index int, content string) error
	SetFontSize(index int, size float64) error
	SetImage(index int, img image.Image) error
	SetTransform(index int, left, top, scaleX, scaleY, angle float64) error
	SetLocked(index int, locked bool) error

	MeasureText(content, fontFamily string, fontSize float64) (width, height float64, err error)

	// Subscribe registers fn for all future events and returns an
	// unsubscribe function.
	Subscribe(fn func(Event)) func()

	// Render rasterizes the current document to PNG at the given
	// uniform scale (output pixels per document unit).
	Render(w io.Writer, scale float64) error
}
