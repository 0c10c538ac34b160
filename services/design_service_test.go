package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fonts"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store/memory"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
	canvassurface "github.com/MerlinStacks/productdesigner-sub001/internal/surface/canvas"
)

func newTestDesignService(t *testing.T) (*DesignService, *memory.Store) {
	t.Helper()
	docStore := memory.New()
	resolver := fonts.NewResolver(t.TempDir())
	svc := NewDesignService(docStore, func() surface.Surface {
		return canvassurface.New(resolver)
	})
	svc.saveDelay = 20 * time.Millisecond
	return svc, docStore
}

func waitForSave(t *testing.T, svc *DesignService, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.Status(id)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status.State == "saved" {
			return
		}
		if status.State == "failed" {
			t.Fatalf("save failed: %s", status.Message)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("save never completed")
}

func TestOpenCreatesEmptyDesign(t *testing.T) {
	svc, _ := newTestDesignService(t)

	doc, err := svc.Open(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if doc.Canvas.Width <= 0 || doc.Canvas.Height <= 0 {
		t.Errorf("new design has degenerate canvas %+v", doc.Canvas)
	}
	if len(doc.Objects) != 0 {
		t.Errorf("new design has %d objects", len(doc.Objects))
	}
}

func TestAddObjectCentersWhenUnpositioned(t *testing.T) {
	svc, _ := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	index, err := svc.AddObject("d1", scene.Object{Kind: scene.KindTextbox, Width: 100, Height: 50, FontSize: 20})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if index != 0 {
		t.Errorf("first object got index %d", index)
	}

	doc, err := svc.Document("d1")
	if err != nil {
		t.Fatalf("document failed: %v", err)
	}
	obj := doc.Objects[0]
	if obj.Left != (doc.Canvas.Width-100)/2 || obj.Top != (doc.Canvas.Height-50)/2 {
		t.Errorf("object not centered: left=%g top=%g", obj.Left, obj.Top)
	}
	if !obj.Visible || obj.ScaleX != 1 || obj.ScaleY != 1 {
		t.Errorf("defaults not applied: %+v", obj)
	}
}

func TestEditsDebounceIntoOneSave(t *testing.T) {
	svc, docStore := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindShape, Width: 10, Height: 10, Left: 5, Top: 5}); err != nil {
			t.Fatalf("add %d failed: %v", i, err)
		}
	}

	waitForSave(t, svc, "d1")

	saved, err := docStore.FetchDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(saved.Objects) != 3 {
		t.Errorf("saved document has %d objects, want 3", len(saved.Objects))
	}
	// three rapid edits coalesce into a single save
	if saved.Version != 1 {
		t.Errorf("saved version is %d, want 1", saved.Version)
	}
}

func TestMoveObjectReorders(t *testing.T) {
	svc, _ := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	for _, label := range []string{"a", "b", "c"} {
		if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindText, Label: label, FontSize: 12, Left: 1, Top: 1}); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	if err := svc.MoveObject("d1", 2, 0); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	doc, _ := svc.Document("d1")
	got := []string{doc.Objects[0].Label, doc.Objects[1].Label, doc.Objects[2].Label}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order after move: %v, want %v", got, want)
		}
	}
}

func TestRemoveActiveSuppressedWhileTextEditing(t *testing.T) {
	svc, _ := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindTextbox, Width: 100, Height: 40, FontSize: 18, Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.SetActive("d1", 0, true); err != nil {
		t.Fatalf("set active failed: %v", err)
	}
	if err := svc.RemoveActive("d1"); !errors.Is(err, ErrTextEditing) {
		t.Fatalf("got %v, want ErrTextEditing", err)
	}

	// leaving text-edit mode re-enables deletion
	if err := svc.SetActive("d1", 0, false); err != nil {
		t.Fatalf("set active failed: %v", err)
	}
	if err := svc.RemoveActive("d1"); err != nil {
		t.Fatalf("remove active failed: %v", err)
	}
	doc, _ := svc.Document("d1")
	if len(doc.Objects) != 0 {
		t.Errorf("object not deleted: %d left", len(doc.Objects))
	}
}

func TestVisibilityAndLockToggles(t *testing.T) {
	svc, _ := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindShape, Width: 10, Height: 10, Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.SetVisible("d1", 0, false); err != nil {
		t.Fatalf("set visible failed: %v", err)
	}
	if err := svc.SetLocked("d1", 0, true); err != nil {
		t.Fatalf("set locked failed: %v", err)
	}

	doc, _ := svc.Document("d1")
	if doc.Objects[0].Visible {
		t.Error("object still visible")
	}
	if !doc.Objects[0].Locked {
		t.Error("object not locked")
	}
}

func TestTemplateSaveAndLoad(t *testing.T) {
	svc, _ := newTestDesignService(t)
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindTextbox, Width: 200, Height: 60, FontSize: 22, Label: "Name", Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	templateID, err := svc.SaveTemplate(ctx, "d1", "Starter")
	if err != nil {
		t.Fatalf("save template failed: %v", err)
	}

	list, err := svc.ListTemplates(ctx)
	if err != nil || len(list) != 1 || list[0].Name != "Starter" {
		t.Fatalf("template list wrong: %v, %v", list, err)
	}

	// a second design loads the template, replacing its content
	if _, err := svc.Open(ctx, "d2"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d2", scene.Object{Kind: scene.KindShape, Width: 5, Height: 5, Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.LoadTemplate(ctx, "d2", templateID, false); !errors.Is(err, ErrConfirmationNeed) {
		t.Fatalf("got %v, want ErrConfirmationNeed", err)
	}
	if err := svc.LoadTemplate(ctx, "d2", templateID, true); err != nil {
		t.Fatalf("load template failed: %v", err)
	}

	doc, _ := svc.Document("d2")
	if len(doc.Objects) != 1 || doc.Objects[0].Label != "Name" {
		t.Errorf("template content not loaded: %+v", doc.Objects)
	}

	// the replacement is persisted even though Load itself emits no events
	waitForSave(t, svc, "d2")
}

func TestFlushKeepsEditMadeDuringSave(t *testing.T) {
	docStore := memory.New()
	stub := &stubSurface{}
	svc := NewDesignService(docStore, func() surface.Surface { return stub })
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindShape, Width: 10, Height: 10, Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// a second object lands right after the save snapshots the document
	stub.onDocument = func() {
		if _, err := stub.AddObject(scene.Object{Kind: scene.KindShape, Width: 5, Height: 5, Left: 2, Top: 2, Visible: true, ScaleX: 1, ScaleY: 1}); err != nil {
			t.Errorf("concurrent add failed: %v", err)
		}
	}
	if err := svc.Flush(ctx, "d1"); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	doc, err := svc.Document("d1")
	if err != nil {
		t.Fatalf("document failed: %v", err)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("edit made during save was lost: %d objects in memory", len(doc.Objects))
	}

	saved, err := docStore.FetchDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("fetch after flush failed: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("saved version is %d, want 1", saved.Version)
	}

	// the next save picks the late edit up
	if err := svc.Flush(ctx, "d1"); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	saved, err = docStore.FetchDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(saved.Objects) != 2 {
		t.Errorf("second save has %d objects, want 2", len(saved.Objects))
	}
	if saved.Version != 2 {
		t.Errorf("saved version is %d, want 2", saved.Version)
	}
}

func TestFlushPersistsImmediately(t *testing.T) {
	svc, docStore := newTestDesignService(t)
	svc.saveDelay = time.Hour
	ctx := context.Background()
	if _, err := svc.Open(ctx, "d1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := svc.AddObject("d1", scene.Object{Kind: scene.KindShape, Width: 10, Height: 10, Left: 1, Top: 1}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if err := svc.Flush(ctx, "d1"); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	saved, err := docStore.FetchDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("fetch after flush failed: %v", err)
	}
	if len(saved.Objects) != 1 {
		t.Errorf("flush did not persist: %d objects", len(saved.Objects))
	}
}
