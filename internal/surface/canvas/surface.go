// Package canvassurface implements the rendering surface on top of
// github.com/tdewolff/canvas: font faces for measurement, vector
// drawing for shapes and text, and PNG rasterization for previews.
package canvassurface

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	xdraw "golang.org/x/image/draw"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fonts"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
)

// Line spacing factor used when the font face reports no usable line
// height. Matches the default of the authoring canvas.
const lineSpacing = 1.16

// Stored pixels per document unit for uploaded images. Two keeps
// previews crisp when the raster scale is above 1.
const imageDPU = 2.0

// Dimensions of the placeholder canvas rendered when no document is
// loaded.
const (
	emptyWidth  = 400
	emptyHeight = 300
)

// Surface renders a scene document with tdewolff/canvas.
type Surface struct {
	resolver *fonts.Resolver

	mu      sync.Mutex
	doc     *scene.Document
	images  []image.Image // aligned with doc.Objects; non-nil only for filled placeholders
	subs    map[int]func(surface.Event)
	nextSub int
}

var _ surface.Surface = (*Surface)(nil)

// New creates an empty surface measuring and drawing with fonts from
// resolver.
func New(resolver *fonts.Resolver) *Surface {
	return &Surface{
		resolver: resolver,
		subs:     make(map[int]func(surface.Event)),
	}
}

// Load replaces the surface content with a deep copy of doc, dropping
// any previously bound images.
func (s *Surface) Load(doc *scene.Document) error {
	if doc == nil {
		return errors.New("cannot load a nil document")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
	s.images = make([]image.Image, len(s.doc.Objects))
	return nil
}

func (s *Surface) Document() *scene.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Surface) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return 0
	}
	return len(s.doc.Objects)
}

func (s *Surface) Object(index int) (scene.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil || index < 0 || index >= len(s.doc.Objects) {
		return scene.Object{}, false
	}
	return s.doc.Objects[index], true
}

// AddObject appends obj to the top of the stack and returns its index.
func (s *Surface) AddObject(obj scene.Object) (int, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return 0, errors.New("no document loaded")
	}
	if !obj.Kind.Known() {
		s.mu.Unlock()
		return 0, fmt.Errorf("unknown object kind %q", obj.Kind)
	}
	s.doc.Objects = append(s.doc.Objects, obj)
	s.images = append(s.images, nil)
	index := len(s.doc.Objects) - 1
	subs := s.snapshotSubs()
	s.mu.Unlock()
	notify(subs, surface.Event{Kind: surface.ObjectAdded, Index: index})
	return index, nil
}

func (s *Surface) RemoveObject(index int) error {
	s.mu.Lock()
	if err := s.checkIndex(index); err != nil {
		s.mu.Unlock()
		return err
	}
	s.doc.Objects = append(s.doc.Objects[:index], s.doc.Objects[index+1:]...)
	s.images = append(s.images[:index], s.images[index+1:]...)
	subs := s.snapshotSubs()
	s.mu.Unlock()
	notify(subs, surface.Event{Kind: surface.ObjectRemoved, Index: index})
	return nil
}

// MoveObject reorders the object at from to position to, carrying its
// bound image along. Slice position is z-order, so the stack is
// renumbered implicitly.
func (s *Surface) MoveObject(from, to int) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return errors.New("no document loaded")
	}
	if err := s.doc.Move(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	img := s.images[from]
	s.images = append(s.images[:from], s.images[from+1:]...)
	rest := append([]image.Image{img}, s.images[to:]...)
	s.images = append(s.images[:to], rest...)
	subs := s.snapshotSubs()
	s.mu.Unlock()
	notify(subs, surface.Event{Kind: surface.ObjectModified, Index: to})
	return nil
}

func (s *Surface) SetObject(index int, obj scene.Object) error {
	if !obj.Kind.Known() {
		return fmt.Errorf("unknown object kind %q", obj.Kind)
	}
	return s.mutate(index, func(o *scene.Object) error {
		*o = obj
		return nil
	})
}

func (s *Surface) SetText(index int, content string) error {
	return s.mutate(index, func(o *scene.Object) error {
		if !o.IsText() {
			return fmt.Errorf("object %d is a %s, not a text object", index, o.Kind)
		}
		o.Content = content
		return nil
	})
}

func (s *Surface) SetFontSize(index int, size float64) error {
	return s.mutate(index, func(o *scene.Object) error {
		if !o.IsText() {
			return fmt.Errorf("object %d is a %s, not a text object", index, o.Kind)
		}
		if size <= 0 {
			return fmt.Errorf("font size must be positive, got %g", size)
		}
		o.FontSize = size
		return nil
	})
}

// SetImage binds img to an image placeholder, pre-fitted to the
// placeholder's box so the original position and size are preserved.
func (s *Surface) SetImage(index int, img image.Image) error {
	s.mu.Lock()
	if err := s.checkIndex(index); err != nil {
		s.mu.Unlock()
		return err
	}
	o := s.doc.Objects[index]
	if o.Kind != scene.KindImagePlaceholder {
		s.mu.Unlock()
		return fmt.Errorf("object %d is a %s, not an image placeholder", index, o.Kind)
	}
	w, h := o.Box()
	s.images[index] = fitImage(img, w, h)
	subs := s.snapshotSubs()
	s.mu.Unlock()
	notify(subs, surface.Event{Kind: surface.ObjectModified, Index: index})
	return nil
}

func (s *Surface) SetTransform(index int, left, top, scaleX, scaleY, angle float64) error {
	return s.mutate(index, func(o *scene.Object) error {
		o.Left, o.Top = left, top
		o.ScaleX, o.ScaleY = scaleX, scaleY
		o.Angle = angle
		return nil
	})
}

func (s *Surface) SetLocked(index int, locked bool) error {
	return s.mutate(index, func(o *scene.Object) error {
		o.Locked = locked
		return nil
	})
}

// MeasureText returns the rendered bounding box of content at the
// given size. Multi-line content measures as the widest line by the
// summed line heights.
func (s *Surface) MeasureText(content, fontFamily string, fontSize float64) (float64, float64, error) {
	if fontSize <= 0 {
		return 0, 0, fmt.Errorf("font size must be positive, got %g", fontSize)
	}
	fam := s.resolver.Resolve(fontFamily)
	if fam == nil {
		return 0, 0, errors.New("no usable font family")
	}
	face := fam.Face(fontSize, canvas.Black, canvas.FontRegular, canvas.FontNormal)
	lines := strings.Split(content, "\n")
	var maxWidth float64
	for _, line := range lines {
		if w := face.TextWidth(line); w > maxWidth {
			maxWidth = w
		}
	}
	lineHeight := face.Metrics().LineHeight
	if lineHeight <= 0 {
		lineHeight = fontSize * lineSpacing
	}
	return maxWidth, float64(len(lines)) * lineHeight, nil
}

func (s *Surface) Subscribe(fn func(surface.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Render rasterizes the document to PNG at scale output pixels per
// document unit. Without a loaded document it renders the empty
// placeholder state instead of failing.
func (s *Surface) Render(w io.Writer, scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("render scale must be positive, got %g", scale)
	}
	s.mu.Lock()
	doc := s.doc.Clone()
	images := make([]image.Image, len(s.images))
	copy(images, s.images)
	s.mu.Unlock()

	if doc == nil {
		doc = &scene.Document{Canvas: scene.Canvas{Width: emptyWidth, Height: emptyHeight, BackgroundColor: "#f2f2f2"}}
	}

	c := canvas.New(doc.Canvas.Width, doc.Canvas.Height)
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV) // top-left origin, like the document

	bg := canvas.White
	if doc.Canvas.BackgroundColor != "" {
		bg = canvas.Hex(doc.Canvas.BackgroundColor)
	}
	ctx.SetFillColor(bg)
	ctx.SetStrokeColor(color.RGBA{})
	ctx.DrawPath(0, 0, canvas.Rectangle(doc.Canvas.Width, doc.Canvas.Height))

	for i, obj := range doc.Objects {
		if !obj.Visible {
			continue
		}
		if obj.Angle != 0 {
			ctx.SetView(canvas.Identity.RotateAbout(obj.Angle, obj.Left, obj.Top))
		}
		switch obj.Kind {
		case scene.KindShape:
			s.drawShape(ctx, obj)
		case scene.KindText, scene.KindTextbox:
			s.drawText(ctx, obj)
		case scene.KindImagePlaceholder:
			s.drawPlaceholder(ctx, obj, images[i])
		}
		if obj.Angle != 0 {
			ctx.SetView(canvas.Identity)
		}
	}

	img := rasterizer.Draw(c, canvas.DPMM(scale), canvas.DefaultColorSpace)
	return png.Encode(w, img)
}

func (s *Surface) drawShape(ctx *canvas.Context, obj scene.Object) {
	w, h := obj.Box()
	fill := color.RGBA{}
	if obj.Fill != "" {
		fill = canvas.Hex(obj.Fill)
	}
	ctx.SetFillColor(fill)
	if obj.Stroke != "" && obj.StrokeWidth > 0 {
		ctx.SetStrokeColor(canvas.Hex(obj.Stroke))
		ctx.SetStrokeWidth(obj.StrokeWidth)
	} else {
		ctx.SetStrokeColor(color.RGBA{})
	}
	ctx.DrawPath(obj.Left, obj.Top, canvas.Rectangle(w, h))
}

func (s *Surface) drawText(ctx *canvas.Context, obj scene.Object) {
	if obj.Content == "" || obj.FontSize <= 0 {
		return
	}
	fam := s.resolver.Resolve(obj.FontFamily)
	if fam == nil {
		return
	}
	fill := canvas.Black
	if obj.Fill != "" {
		fill = canvas.Hex(obj.Fill)
	}
	face := fam.Face(obj.FontSize, fill, canvas.FontRegular, canvas.FontNormal)
	metrics := face.Metrics()
	lineHeight := metrics.LineHeight
	if lineHeight <= 0 {
		lineHeight = obj.FontSize * lineSpacing
	}
	cursorY := obj.Top
	for _, line := range strings.Split(obj.Content, "\n") {
		textLine := canvas.NewTextLine(face, line, canvas.Left)
		ctx.DrawText(obj.Left, cursorY+metrics.Ascent, textLine)
		cursorY += lineHeight
	}
}

func (s *Surface) drawPlaceholder(ctx *canvas.Context, obj scene.Object, img image.Image) {
	w, h := obj.Box()
	if img != nil {
		bounds := img.Bounds()
		// the fitted image is imageDPU pixels per document unit, so
		// center it within the placeholder box
		drawnW := float64(bounds.Dx()) / imageDPU
		drawnH := float64(bounds.Dy()) / imageDPU
		x := obj.Left + (w-drawnW)/2
		y := obj.Top + (h-drawnH)/2
		ctx.DrawImage(x, y, img, canvas.DPMM(imageDPU))
		return
	}
	// empty slot: light outline so the designer's area stays visible
	ctx.SetFillColor(color.RGBA{})
	ctx.SetStrokeColor(canvas.Hex("#cccccc"))
	ctx.SetStrokeWidth(1)
	ctx.DrawPath(obj.Left, obj.Top, canvas.Rectangle(w, h))
}

func (s *Surface) mutate(index int, fn func(o *scene.Object) error) error {
	s.mu.Lock()
	if err := s.checkIndex(index); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(&s.doc.Objects[index]); err != nil {
		s.mu.Unlock()
		return err
	}
	subs := s.snapshotSubs()
	s.mu.Unlock()
	notify(subs, surface.Event{Kind: surface.ObjectModified, Index: index})
	return nil
}

func (s *Surface) checkIndex(index int) error {
	if s.doc == nil {
		return errors.New("no document loaded")
	}
	if index < 0 || index >= len(s.doc.Objects) {
		return fmt.Errorf("object index %d out of range [0,%d)", index, len(s.doc.Objects))
	}
	return nil
}

func (s *Surface) snapshotSubs() []func(surface.Event) {
	out := make([]func(surface.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(surface.Event), ev surface.Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

// fitImage scales src to fit a box of w by h document units,
// preserving the image's aspect ratio and centering it on a
// transparent background sized exactly to the box.
func fitImage(src image.Image, w, h float64) image.Image {
	pw := int(math.Ceil(w * imageDPU))
	ph := int(math.Ceil(h * imageDPU))
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return image.NewRGBA(image.Rect(0, 0, pw, ph))
	}
	scale := math.Min(float64(pw)/float64(sb.Dx()), float64(ph)/float64(sb.Dy()))
	dw := int(math.Round(float64(sb.Dx()) * scale))
	dh := int(math.Round(float64(sb.Dy()) * scale))
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, pw, ph))
	x0 := (pw - dw) / 2
	y0 := (ph - dh) / 2
	xdraw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+dw, y0+dh), src, sb, xdraw.Over, nil)
	return dst
}
