package personalization

import (
	"testing"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

func TestValueFilled(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind scene.Kind
		want bool
	}{
		{"text present", Value{Text: "hi"}, scene.KindText, true},
		{"text whitespace only", Value{Text: "   "}, scene.KindTextbox, false},
		{"text empty", Value{}, scene.KindText, false},
		{"image url present", Value{ImageURL: "https://x/y.png"}, scene.KindImagePlaceholder, true},
		{"image url empty", Value{Text: "not an image"}, scene.KindImagePlaceholder, false},
		{"shape never filled", Value{Text: "x"}, scene.KindShape, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Filled(tt.kind); got != tt.want {
				t.Errorf("Filled(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestAssembleIncludesFilledOptionalFields(t *testing.T) {
	fds := []fields.Descriptor{
		{Index: 0, Kind: scene.KindText, Label: "Name", Required: true},
		{Index: 2, Kind: scene.KindTextbox, Label: "Message"},
		{Index: 5, Kind: scene.KindImagePlaceholder, Label: "Image Upload"},
	}
	values := map[int]Value{
		0: {Text: "Ann"},
		2: {Text: "optional but filled"},
		5: {},
	}

	p := Assemble(fds, values)
	if p.Token == "" {
		t.Error("payload has no token")
	}
	if len(p.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(p.Entries))
	}
	if _, ok := p.Entries[2]; !ok {
		t.Error("filled optional field missing from payload")
	}
	if _, ok := p.Entries[5]; ok {
		t.Error("empty field should not appear in payload")
	}
}

func TestAssembleTokensDiffer(t *testing.T) {
	p1 := Assemble(nil, nil)
	p2 := Assemble(nil, nil)
	if p1.Token == p2.Token {
		t.Errorf("two payloads share token %q", p1.Token)
	}
}
