package scene

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the object variants of a design.
type Kind string

const (
	KindText             Kind = "text"
	KindTextbox          Kind = "textbox"
	KindImagePlaceholder Kind = "imagePlaceholder"
	KindShape            Kind = "shape"
)

// Editable reports whether objects of this kind accept customer input.
func (k Kind) Editable() bool {
	switch k {
	case KindText, KindTextbox, KindImagePlaceholder:
		return true
	}
	return false
}

// Known reports whether k is one of the supported object kinds.
func (k Kind) Known() bool {
	switch k {
	case KindText, KindTextbox, KindImagePlaceholder, KindShape:
		return true
	}
	return false
}

// Canvas holds the document-level settings of a design.
type Canvas struct {
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
}

// Object is one placeable element of a design. The struct carries the
// union of all variant fields; Kind decides which of them are meaningful.
type Object struct {
	Kind     Kind    `json:"kind"`
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	ScaleX   float64 `json:"scaleX"`
	ScaleY   float64 `json:"scaleY"`
	Angle    float64 `json:"angle"`
	Visible  bool    `json:"visible"`
	Locked   bool    `json:"locked"`
	Label    string  `json:"label,omitempty"`
	Required bool    `json:"required,omitempty"`

	// text and textbox only
	Content    string  `json:"content,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	Fill       string  `json:"fill,omitempty"`
	MaxLength  int     `json:"maxLength,omitempty"`

	// shape only (Fill is shared with the text variants)
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// UnmarshalJSON applies the documented defaults for absent fields:
// visible=true, scaleX=1, scaleY=1.
func (o *Object) UnmarshalJSON(data []byte) error {
	type alias Object
	tmp := alias{Visible: true, ScaleX: 1, ScaleY: 1}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*o = Object(tmp)
	return nil
}

// IsText reports whether the object carries text content.
func (o Object) IsText() bool {
	return o.Kind == KindText || o.Kind == KindTextbox
}

// Box returns the designer-authored target area of the object in
// document units, with the object's scale applied.
func (o Object) Box() (width, height float64) {
	return o.Width * o.ScaleX, o.Height * o.ScaleY
}

// Document is the serializable design: canvas settings plus an ordered
// object list. The slice order is the z-order (index 0 is the bottom)
// and the binding key for customer-facing fields, so it must survive
// every save/load round trip unchanged.
type Document struct {
	Canvas  Canvas   `json:"canvas"`
	Objects []Object `json:"objects"`
	// Version is stamped on every save for observability. It is not
	// used to reject concurrent writes.
	Version int64 `json:"version,omitempty"`
}

// AspectRatio returns width/height of the canvas, or 0 for a
// degenerate canvas.
func (d *Document) AspectRatio() float64 {
	if d == nil || d.Canvas.Height <= 0 {
		return 0
	}
	return d.Canvas.Width / d.Canvas.Height
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Objects = make([]Object, len(d.Objects))
	copy(cp.Objects, d.Objects)
	return &cp
}

// Validate checks the structural invariants of a document. Customer
// flows tolerate malformed objects by skipping them; Validate is for
// the authoring side, where saving a broken document should fail loudly.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("document is nil")
	}
	if d.Canvas.Width <= 0 || d.Canvas.Height <= 0 {
		return fmt.Errorf("canvas dimensions must be positive, got %gx%g", d.Canvas.Width, d.Canvas.Height)
	}
	for i, obj := range d.Objects {
		if !obj.Kind.Known() {
			return fmt.Errorf("object %d: unknown kind %q", i, obj.Kind)
		}
		if obj.Required && !obj.Kind.Editable() {
			return fmt.Errorf("object %d: %s objects cannot be required", i, obj.Kind)
		}
		if obj.IsText() && obj.FontSize <= 0 {
			return fmt.Errorf("object %d: fontSize must be positive", i)
		}
	}
	return nil
}

// Move reorders the object at index from to index to, shifting the
// objects in between. All objects keep their relative order otherwise;
// z-order is renumbered implicitly because it is the slice position.
func (d *Document) Move(from, to int) error {
	n := len(d.Objects)
	if from < 0 || from >= n {
		return fmt.Errorf("source index %d out of range [0,%d)", from, n)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("destination index %d out of range [0,%d)", to, n)
	}
	if from == to {
		return nil
	}
	obj := d.Objects[from]
	d.Objects = append(d.Objects[:from], d.Objects[from+1:]...)
	rest := append([]Object{obj}, d.Objects[to:]...)
	d.Objects = append(d.Objects[:to], rest...)
	return nil
}
