package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fields"
	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store/memory"
)

func testDesign() *scene.Document {
	return &scene.Document{
		Canvas: scene.Canvas{Width: 800, Height: 600},
		Objects: []scene.Object{
			{Kind: scene.KindShape, Visible: true, ScaleX: 1, ScaleY: 1},
			{Kind: scene.KindTextbox, Label: "Name", Required: true, FontSize: 20, Width: 300, Height: 80, MaxLength: 10, Visible: true, ScaleX: 1, ScaleY: 1},
			{Kind: scene.KindText, Label: "Motto", FontSize: 16, Visible: true, ScaleX: 1, ScaleY: 1},
			{Kind: scene.KindImagePlaceholder, Label: "Photo", Required: true, Width: 200, Height: 200, Visible: true, ScaleX: 1, ScaleY: 1},
		},
	}
}

func newTestSubmission(t *testing.T) (*SubmissionService, *CheckoutRecorder, SessionSnapshot) {
	t.Helper()
	docStore := memory.New()
	if err := docStore.SaveDocument(context.Background(), "design-1", testDesign()); err != nil {
		t.Fatalf("seed design failed: %v", err)
	}
	checkout := NewCheckoutRecorder()
	svc := NewSubmissionService(docStore, checkout)
	snap, err := svc.StartSession(context.Background(), "design-1")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	return svc, checkout, snap
}

func TestStartSessionSynthesizesFields(t *testing.T) {
	_, _, snap := newTestSubmission(t)

	if snap.State != StateIdle {
		t.Errorf("new session state is %s, want idle", snap.State)
	}
	if len(snap.Fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(snap.Fields))
	}
	if snap.Fields[0].Index != 1 || snap.Fields[2].Index != 3 {
		t.Errorf("field indices do not track object positions: %+v", snap.Fields)
	}
	if snap.SubmitEnabled {
		t.Error("submit enabled before required fields are filled")
	}
}

func TestSubmitReportsFirstMissingRequiredField(t *testing.T) {
	svc, checkout, snap := newTestSubmission(t)

	_, err := svc.Submit(snap.ID)
	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingFieldError", err)
	}
	if missing.Label != "Name" {
		t.Errorf("got first missing label %q, want Name", missing.Label)
	}

	sess, _ := svc.Session(snap.ID)
	if sess.Snapshot().State != StateBlocked {
		t.Errorf("session state is %s, want blocked", sess.Snapshot().State)
	}
	if _, enabled := checkout.Read(snap.ID); enabled {
		t.Error("checkout submit should stay disabled")
	}

	// fill the first required field, the next one is reported
	if _, err := svc.SetFieldValue(snap.ID, 1, personalization.Value{Text: "Ann"}); err != nil {
		t.Fatalf("set field failed: %v", err)
	}
	_, err = svc.Submit(snap.ID)
	if !errors.As(err, &missing) || missing.Label != "Photo" {
		t.Fatalf("got %v, want MissingFieldError for Photo", err)
	}
}

func TestSubmitHappyPath(t *testing.T) {
	svc, checkout, snap := newTestSubmission(t)

	if _, err := svc.SetFieldValue(snap.ID, 1, personalization.Value{Text: "Ann"}); err != nil {
		t.Fatalf("set field failed: %v", err)
	}
	// the optional text field stays empty on purpose
	if err := svc.CompleteUpload(snap.ID, 3, "https://cdn/img.png"); err != nil {
		t.Fatalf("complete upload failed: %v", err)
	}

	payload, err := svc.Submit(snap.ID)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(payload.Entries) != 2 {
		t.Fatalf("got %d payload entries, want 2", len(payload.Entries))
	}
	if payload.Entries[1].Text != "Ann" || payload.Entries[3].ImageURL != "https://cdn/img.png" {
		t.Errorf("payload entries wrong: %+v", payload.Entries)
	}

	sess, _ := svc.Session(snap.ID)
	if got := sess.Snapshot().State; got != StateSubmitted {
		t.Errorf("session state is %s, want submitted", got)
	}
	if written, _ := checkout.Read(snap.ID); written == nil {
		t.Error("checkout payload was never written")
	}

	// a second submission of the same content gets a fresh token
	second, err := svc.Submit(snap.ID)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if second.Token == payload.Token {
		t.Errorf("repeated submissions share token %q", payload.Token)
	}
}

func TestSubmitRefusedWhileUploadInFlight(t *testing.T) {
	svc, _, snap := newTestSubmission(t)

	if _, err := svc.SetFieldValue(snap.ID, 1, personalization.Value{Text: "Ann"}); err != nil {
		t.Fatalf("set field failed: %v", err)
	}
	if err := svc.CompleteUpload(snap.ID, 3, "https://cdn/a.png"); err != nil {
		t.Fatalf("complete upload failed: %v", err)
	}

	// a replacement upload starts; all fields are filled but the gate holds
	if err := svc.BeginUpload(snap.ID); err != nil {
		t.Fatalf("begin upload failed: %v", err)
	}
	if _, err := svc.Submit(snap.ID); !errors.Is(err, ErrUploadsInFlight) {
		t.Fatalf("got %v, want ErrUploadsInFlight", err)
	}

	if err := svc.CompleteUpload(snap.ID, 3, "https://cdn/b.png"); err != nil {
		t.Fatalf("complete upload failed: %v", err)
	}
	payload, err := svc.Submit(snap.ID)
	if err != nil {
		t.Fatalf("submit after upload settled failed: %v", err)
	}
	if payload.Entries[3].ImageURL != "https://cdn/b.png" {
		t.Errorf("payload holds stale image URL %q", payload.Entries[3].ImageURL)
	}
}

func TestFailedUploadReleasesGate(t *testing.T) {
	svc, _, snap := newTestSubmission(t)

	if err := svc.BeginUpload(snap.ID); err != nil {
		t.Fatalf("begin upload failed: %v", err)
	}
	if err := svc.FailUpload(snap.ID); err != nil {
		t.Fatalf("fail upload failed: %v", err)
	}

	sess, _ := svc.Session(snap.ID)
	if got := sess.Snapshot().UploadsInFlight; got != 0 {
		t.Errorf("uploads in flight is %d, want 0", got)
	}

	// an extra failure must not drive the counter negative
	if err := svc.FailUpload(snap.ID); err != nil {
		t.Fatalf("extra fail upload errored: %v", err)
	}
	if got := sess.Snapshot().UploadsInFlight; got != 0 {
		t.Errorf("uploads in flight went to %d after underflow", got)
	}
}

func TestSetFieldValueTruncatesToMaxLength(t *testing.T) {
	svc, _, snap := newTestSubmission(t)

	got, err := svc.SetFieldValue(snap.ID, 1, personalization.Value{Text: "0123456789overflow"})
	if err != nil {
		t.Fatalf("set field failed: %v", err)
	}
	if got.Values[1].Text != "0123456789" {
		t.Errorf("got %q, want text truncated to 10 runes", got.Values[1].Text)
	}
	if got.State != StateEditing {
		t.Errorf("state is %s, want editing", got.State)
	}
}

func TestSetFieldValueRejectsNonEditableIndex(t *testing.T) {
	svc, _, snap := newTestSubmission(t)

	if _, err := svc.SetFieldValue(snap.ID, 0, personalization.Value{Text: "x"}); !errors.Is(err, ErrFieldNotEditable) {
		t.Fatalf("shape index: got %v, want ErrFieldNotEditable", err)
	}
	if _, err := svc.SetFieldValue(snap.ID, 42, personalization.Value{Text: "x"}); !errors.Is(err, ErrFieldNotEditable) {
		t.Fatalf("out of range index: got %v, want ErrFieldNotEditable", err)
	}
}

func TestMissingDesignStartsEmptySession(t *testing.T) {
	svc := NewSubmissionService(memory.New(), NewCheckoutRecorder())
	snap, err := svc.StartSession(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	if len(snap.Fields) != 0 {
		t.Errorf("empty session has %d fields", len(snap.Fields))
	}

	// zero required fields: validation and submission pass trivially
	result, err := svc.ValidateSession(snap.ID)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !result.AllFilled {
		t.Error("empty session should validate trivially")
	}
	if _, err := svc.Submit(snap.ID); err != nil {
		t.Errorf("empty session submit failed: %v", err)
	}
}

func TestFulfillmentPairOnlyAfterSubmit(t *testing.T) {
	svc, _, snap := newTestSubmission(t)

	if _, _, err := svc.FulfillmentPair(snap.ID); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("got %v, want ErrNotSubmitted", err)
	}

	if _, err := svc.SetFieldValue(snap.ID, 1, personalization.Value{Text: "Ann"}); err != nil {
		t.Fatalf("set field failed: %v", err)
	}
	if err := svc.CompleteUpload(snap.ID, 3, "https://cdn/img.png"); err != nil {
		t.Fatalf("complete upload failed: %v", err)
	}
	if _, err := svc.Submit(snap.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	doc, payload, err := svc.FulfillmentPair(snap.ID)
	if err != nil {
		t.Fatalf("fulfillment pair failed: %v", err)
	}
	if len(doc.Objects) != 4 {
		t.Errorf("fulfillment document lost objects: %d", len(doc.Objects))
	}
	if payload.Entries[1].Text != "Ann" {
		t.Errorf("fulfillment payload wrong: %+v", payload.Entries)
	}
}

func TestEndSessionStopsHubAndDropsClients(t *testing.T) {
	svc, checkout, snap := newTestSubmission(t)
	sess, _ := svc.Session(snap.ID)

	client := &Client{Session: sess, Send: make(chan []byte, 1)}
	sess.AddClient(client)

	if err := svc.EndSession(snap.ID); err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	if _, ok := svc.Session(snap.ID); ok {
		t.Error("session still reachable after end")
	}
	if err := svc.EndSession(snap.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second end: got %v, want ErrSessionNotFound", err)
	}
	if payload, enabled := checkout.Read(snap.ID); payload != nil || enabled {
		t.Error("checkout form not cleared")
	}

	// the hub closes the client channel on its way out
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-client.Send:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("client channel never closed")
		}
	}
}

func TestIdleSessionsAreSwept(t *testing.T) {
	svc, _, snap := newTestSubmission(t)
	sess, _ := svc.Session(snap.ID)

	svc.removeIdleSessions(time.Now())
	if _, ok := svc.Session(snap.ID); !ok {
		t.Fatal("fresh session was swept")
	}

	sess.mu.Lock()
	sess.lastActive = time.Now().Add(-sessionTTL - time.Minute)
	sess.mu.Unlock()

	svc.removeIdleSessions(time.Now())
	if _, ok := svc.Session(snap.ID); ok {
		t.Error("idle session survived the sweep")
	}
}

func TestStateChangeNeverBlocksOnStoppedHub(t *testing.T) {
	svc, _, snap := newTestSubmission(t)
	sess, _ := svc.Session(snap.ID)
	sess.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(sess.Broadcast)+2; i++ {
			if _, err := svc.ValidateSession(snap.ID); err != nil {
				t.Errorf("validate failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("state change blocked on a stopped hub")
	}
}

func TestValidate(t *testing.T) {
	fds := []fields.Descriptor{
		{Index: 0, Kind: scene.KindText, Label: "A", Required: true},
		{Index: 2, Kind: scene.KindTextbox, Label: "B"},
		{Index: 4, Kind: scene.KindImagePlaceholder, Label: "C", Required: true},
	}

	tests := []struct {
		name        string
		values      map[int]personalization.Value
		wantFilled  bool
		wantMissing string
	}{
		{"nothing filled", nil, false, "A"},
		{"first filled", map[int]personalization.Value{0: {Text: "x"}}, false, "C"},
		{"whitespace does not count", map[int]personalization.Value{0: {Text: "  "}}, false, "A"},
		{"all required filled", map[int]personalization.Value{0: {Text: "x"}, 4: {ImageURL: "u"}}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(fds, tt.values)
			if got.AllFilled != tt.wantFilled || got.FirstMissingLabel != tt.wantMissing {
				t.Errorf("Validate() = %+v, want filled=%v missing=%q", got, tt.wantFilled, tt.wantMissing)
			}
		})
	}

	if got := Validate(nil, nil); !got.AllFilled {
		t.Error("no fields should validate trivially")
	}
}
