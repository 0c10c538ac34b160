package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/autofit"
	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/fonts"
	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
)

// ErrRenderSuperseded reports that a newer render of the same session
// was requested while this one was running. Only the most recent
// resize's render is honored; stale ones are dropped, not queued.
var ErrRenderSuperseded = errors.New("render superseded by a newer request")

// PreviewService renders the customer-facing preview: fonts are
// resolved before the first pass, entered values are bound onto the
// surface by object index, and the whole canvas is scaled uniformly to
// the requested container.
type PreviewService struct {
	resolver   *fonts.Resolver
	newSurface func() surface.Surface
	client     *http.Client
}

func NewPreviewService(resolver *fonts.Resolver, newSurface func() surface.Surface) *PreviewService {
	return &PreviewService{
		resolver:   resolver,
		newSurface: newSurface,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// ComputeScale returns the uniform scale that fits the canvas into a
// container, preserving the document's aspect ratio. A zero container
// height bounds only by width. The single scale factor is applied to
// the whole surface, never per object, so proportions between objects
// cannot drift.
func ComputeScale(c scene.Canvas, containerWidth, containerHeight float64) float64 {
	if c.Width <= 0 || c.Height <= 0 || containerWidth <= 0 {
		return 1
	}
	scale := containerWidth / c.Width
	if containerHeight > 0 {
		if byHeight := containerHeight / c.Height; byHeight < scale {
			scale = byHeight
		}
	}
	return scale
}

// FontFamilies returns the distinct font families referenced by the
// document's text objects, in first-use order.
func FontFamilies(doc *scene.Document) []string {
	if doc == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, obj := range doc.Objects {
		if !obj.IsText() || obj.FontFamily == "" || seen[obj.FontFamily] {
			continue
		}
		seen[obj.FontFamily] = true
		out = append(out, obj.FontFamily)
	}
	return out
}

// Render produces a PNG preview of doc with values bound onto it,
// sized to fit the given container. Font resolution completes (or
// definitively fails) before the render pass; image fetch failures
// degrade to the empty placeholder instead of failing the preview.
func (s *PreviewService) Render(ctx context.Context, doc *scene.Document, values map[int]personalization.Value, containerWidth, containerHeight float64) ([]byte, error) {
	surf := s.newSurface()
	if doc != nil {
		// all referenced fonts resolve before the first render pass;
		// already-resolved families are served from cache
		s.resolver.Preload(FontFamilies(doc))
		if err := surf.Load(doc); err != nil {
			return nil, fmt.Errorf("failed to load document onto surface: %w", err)
		}
		if err := s.bind(ctx, surf, doc, values); err != nil {
			return nil, err
		}
	}

	scale := float64(1)
	if doc != nil {
		scale = ComputeScale(doc.Canvas, containerWidth, containerHeight)
	}
	var buf bytes.Buffer
	if err := surf.Render(&buf, scale); err != nil {
		return nil, fmt.Errorf("failed to rasterize preview: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderSession renders the session's current state. If another
// render of the same session starts while this one is in progress,
// the result is discarded and ErrRenderSuperseded returned.
func (s *PreviewService) RenderSession(ctx context.Context, sess *CustomizationSession, containerWidth, containerHeight float64) ([]byte, error) {
	gen := sess.BeginRender()
	doc, values := sess.RenderState()
	png, err := s.Render(ctx, doc, values, containerWidth, containerHeight)
	if err != nil {
		return nil, err
	}
	if !sess.CurrentRender(gen) {
		return nil, ErrRenderSuperseded
	}
	return png, nil
}

// bind writes the entered values onto the surface and locks every
// object: the customer surface is read-only, interaction happens only
// through the generated form.
func (s *PreviewService) bind(ctx context.Context, surf surface.Surface, doc *scene.Document, values map[int]personalization.Value) error {
	for _, fd := range fields.Synthesize(doc) {
		value, ok := values[fd.Index]
		if !ok {
			continue
		}
		switch fd.Kind {
		case scene.KindText, scene.KindTextbox:
			if err := surf.SetText(fd.Index, value.Text); err != nil {
				return fmt.Errorf("failed to bind field %d: %w", fd.Index, err)
			}
			if fd.Kind == scene.KindTextbox {
				if obj, ok := surf.Object(fd.Index); ok {
					size, err := autofit.FitObject(surf, obj)
					if err != nil {
						log.Printf("Auto-fit failed for object %d, keeping font size %g: %v", fd.Index, obj.FontSize, err)
					} else if size != obj.FontSize {
						if err := surf.SetFontSize(fd.Index, size); err != nil {
							return fmt.Errorf("failed to apply fitted font size on field %d: %w", fd.Index, err)
						}
					}
				}
			}
		case scene.KindImagePlaceholder:
			if value.ImageURL == "" {
				continue
			}
			img, err := s.fetchImage(ctx, value.ImageURL)
			if err != nil {
				log.Printf("Image for field %d unavailable, rendering empty placeholder: %v", fd.Index, err)
				continue
			}
			if err := surf.SetImage(fd.Index, img); err != nil {
				return fmt.Errorf("failed to bind image on field %d: %w", fd.Index, err)
			}
		}
	}

	// replaced images and everything else stay non-interactive
	for i := 0; i < surf.ObjectCount(); i++ {
		if err := surf.SetLocked(i, true); err != nil {
			return fmt.Errorf("failed to lock object %d: %w", i, err)
		}
	}
	return nil
}

func (s *PreviewService) fetchImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image from %s: %w", url, err)
	}
	return img, nil
}
