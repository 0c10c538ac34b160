package fields

import (
	"testing"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

func TestSynthesizeSkipsNonEditable(t *testing.T) {
	doc := &scene.Document{
		Canvas: scene.Canvas{Width: 100, Height: 100},
		Objects: []scene.Object{
			{Kind: scene.KindShape},
			{Kind: scene.KindText, Label: "Headline"},
			{Kind: "sticker"},
			{Kind: scene.KindImagePlaceholder, Required: true},
		},
	}

	fds := Synthesize(doc)
	if len(fds) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(fds))
	}

	// indices refer to the original object list, not the filtered one
	if fds[0].Index != 1 || fds[1].Index != 3 {
		t.Errorf("got indices %d and %d, want 1 and 3", fds[0].Index, fds[1].Index)
	}
	if fds[0].Label != "Headline" {
		t.Errorf("got label %q, want Headline", fds[0].Label)
	}
	if !fds[1].Required {
		t.Error("required flag not carried over")
	}
}

func TestSynthesizeLabelFallbacks(t *testing.T) {
	doc := &scene.Document{
		Canvas: scene.Canvas{Width: 100, Height: 100},
		Objects: []scene.Object{
			{Kind: scene.KindText},
			{Kind: scene.KindText, Label: "Custom"},
			{Kind: scene.KindText},
			{Kind: scene.KindTextbox},
			{Kind: scene.KindImagePlaceholder},
			{Kind: scene.KindImagePlaceholder},
		},
	}

	fds := Synthesize(doc)
	want := []string{"Text 1", "Custom", "Text 3", "Text Box 1", "Image Upload", "Image Upload"}
	if len(fds) != len(want) {
		t.Fatalf("got %d descriptors, want %d", len(fds), len(want))
	}
	for i, fd := range fds {
		if fd.Label != want[i] {
			t.Errorf("descriptor %d: got label %q, want %q", i, fd.Label, want[i])
		}
	}
}

func TestSynthesizeMaxLength(t *testing.T) {
	doc := &scene.Document{
		Canvas: scene.Canvas{Width: 100, Height: 100},
		Objects: []scene.Object{
			{Kind: scene.KindTextbox, MaxLength: 20},
		},
	}
	fds := Synthesize(doc)
	if len(fds) != 1 || fds[0].MaxLength != 20 {
		t.Fatalf("maxLength not carried over: %+v", fds)
	}
}

func TestSynthesizeNilAndEmpty(t *testing.T) {
	if got := Synthesize(nil); got != nil {
		t.Errorf("nil document should synthesize nil, got %v", got)
	}
	doc := &scene.Document{Canvas: scene.Canvas{Width: 100, Height: 100}}
	if got := Synthesize(doc); len(got) != 0 {
		t.Errorf("empty document should synthesize no fields, got %v", got)
	}
}
