// Package personalization holds the values a shopper enters for a
// design's fields and assembles the final payload handed to checkout.
package personalization

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

// Value is one entered field value. Text is set for text and textbox
// fields, ImageURL for image placeholder fields.
type Value struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Filled reports whether the value satisfies a field of the given
// kind. Text counts only when it is non-empty after trimming.
func (v Value) Filled(kind scene.Kind) bool {
	switch kind {
	case scene.KindText, scene.KindTextbox:
		return strings.TrimSpace(v.Text) != ""
	case scene.KindImagePlaceholder:
		return v.ImageURL != ""
	}
	return false
}

// Payload is the final index-keyed value map submitted to checkout.
// The token makes repeated submissions of identical content
// distinguishable downstream. A payload is built fresh for every
// submission attempt and never partially persisted.
type Payload struct {
	Token   string        `json:"token"`
	Entries map[int]Value `json:"entries"`
}

// Assemble builds the payload for all fields, required or not, that
// carry a value, keyed by the field's object index.
func Assemble(fds []fields.Descriptor, values map[int]Value) *Payload {
	entries := make(map[int]Value)
	for _, fd := range fds {
		v, ok := values[fd.Index]
		if !ok || !v.Filled(fd.Kind) {
			continue
		}
		entries[fd.Index] = v
	}
	return &Payload{
		Token:   newToken(),
		Entries: entries,
	}
}

func newToken() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
