// Package fields derives the ordered list of customer-editable field
// descriptors from a design document. Descriptors are never persisted;
// they are recomputed from the document whenever it changes.
package fields

import (
	"fmt"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

// Descriptor describes one customer-editable slot of a design. Index
// is the object's position in the document's object list, not the
// position within the filtered field list, so it stays stable when
// non-editable objects sit between editable ones.
type Descriptor struct {
	Index     int        `json:"index"`
	Kind      scene.Kind `json:"kind"`
	Label     string     `json:"label"`
	Required  bool       `json:"required"`
	MaxLength int        `json:"maxLength,omitempty"`
}

// Synthesize walks the document's objects in order and returns one
// descriptor per editable object. Shapes and objects of unknown kind
// are skipped, never reported as errors. Labels fall back to
// deterministic names ("Text 2", "Text Box 1", "Image Upload") when
// the designer left them blank.
func Synthesize(doc *scene.Document) []Descriptor {
	if doc == nil {
		return nil
	}
	var out []Descriptor
	textRank, boxRank := 0, 0
	for i, obj := range doc.Objects {
		if !obj.Kind.Editable() {
			continue
		}
		label := obj.Label
		switch obj.Kind {
		case scene.KindText:
			textRank++
			if label == "" {
				label = fmt.Sprintf("Text %d", textRank)
			}
		case scene.KindTextbox:
			boxRank++
			if label == "" {
				label = fmt.Sprintf("Text Box %d", boxRank)
			}
		case scene.KindImagePlaceholder:
			if label == "" {
				label = "Image Upload"
			}
		}
		out = append(out, Descriptor{
			Index:     i,
			Kind:      obj.Kind,
			Label:     label,
			Required:  obj.Required,
			MaxLength: obj.MaxLength,
		})
	}
	return out
}
