// Package autofit adjusts a text box's font size until its rendered
// text fits the designer-authored bounding box.
package autofit

import (
	"strings"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
)

// Font size bounds enforced on every fitted text box.
const (
	MinFont = 10
	MaxFont = 48
)

// Measurer measures the rendered bounding box of a piece of text at a
// given font size. The rendering surface satisfies this.
type Measurer interface {
	MeasureText(content, fontFamily string, fontSize float64) (width, height float64, err error)
}

// Box is the target area the text has to fit, in document units.
type Box struct {
	Width  float64
	Height float64
}

// Fit returns the largest font size in [MinFont, MaxFont] at which the
// measured text still fits box, walking one point at a time from the
// starting size and re-measuring after every step. The walk is
// deliberately greedy rather than a binary search; when two sizes
// straddle the box, the smaller one that fits wins.
//
// Text that overflows even at MinFont settles at MinFont (the overflow
// is tolerated). Empty or whitespace-only content returns the starting
// size untouched.
func Fit(m Measurer, content, fontFamily string, start float64, box Box) (float64, error) {
	if strings.TrimSpace(content) == "" {
		return start, nil
	}

	size := start
	if size > MaxFont {
		size = MaxFont
	}
	if size < MinFont {
		size = MinFont
	}

	w, h, err := m.MeasureText(content, fontFamily, size)
	if err != nil {
		return start, err
	}

	if w > box.Width || h > box.Height {
		for size > MinFont {
			size--
			w, h, err = m.MeasureText(content, fontFamily, size)
			if err != nil {
				return start, err
			}
			if w <= box.Width && h <= box.Height {
				break
			}
		}
		return size, nil
	}

	for size < MaxFont {
		w, h, err = m.MeasureText(content, fontFamily, size+1)
		if err != nil {
			return start, err
		}
		if w > box.Width || h > box.Height {
			// one step too far, keep the last fitting size
			break
		}
		size++
	}
	return size, nil
}

// FitObject applies Fit to a textbox object, deriving the target box
// from the object's scaled dimensions. Objects of any other kind are
// returned unchanged: free text objects are sized by the designer, not
// by the engine.
func FitObject(m Measurer, obj scene.Object) (float64, error) {
	if obj.Kind != scene.KindTextbox {
		return obj.FontSize, nil
	}
	w, h := obj.Box()
	return Fit(m, obj.Content, obj.FontFamily, obj.FontSize, Box{Width: w, Height: h})
}
