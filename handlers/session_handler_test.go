package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/MerlinStacks/productdesigner-sub001/internal/fonts"
	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store/memory"
	"github.com/MerlinStacks/productdesigner-sub001/internal/surface"
	canvassurface "github.com/MerlinStacks/productdesigner-sub001/internal/surface/canvas"
	"github.com/MerlinStacks/productdesigner-sub001/services"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	docStore := memory.New()
	err := docStore.SaveDocument(context.Background(), "design-1", &scene.Document{
		Canvas: scene.Canvas{Width: 800, Height: 600},
		Objects: []scene.Object{
			{Kind: scene.KindTextbox, Label: "Name", Required: true, FontSize: 20, Width: 300, Height: 80, Visible: true, ScaleX: 1, ScaleY: 1},
			{Kind: scene.KindShape, Width: 50, Height: 50, Visible: true, ScaleX: 1, ScaleY: 1},
		},
	})
	if err != nil {
		t.Fatalf("seed design failed: %v", err)
	}

	resolver := fonts.NewResolver(t.TempDir())
	newSurface := func() surface.Surface { return canvassurface.New(resolver) }

	checkout := services.NewCheckoutRecorder()
	submissionService := services.NewSubmissionService(docStore, checkout)
	previewService := services.NewPreviewService(resolver, newSurface)
	sessionHandler := NewSessionHandler(submissionService, previewService, checkout)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/designs/{designID}/sessions", sessionHandler.StartSession).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}", sessionHandler.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{sessionID}/fields/{index}", sessionHandler.SetFieldValue).Methods("PUT")
	api.HandleFunc("/sessions/{sessionID}/validate", sessionHandler.ValidateSession).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}/submit", sessionHandler.Submit).Methods("POST")
	api.HandleFunc("/sessions/{sessionID}/checkout", sessionHandler.GetCheckout).Methods("GET")
	return r
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response failed: %v (%s)", err, w.Body.String())
		}
	}
	return w
}

func TestSessionFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	var snap services.SessionSnapshot
	w := doJSON(t, r, http.MethodPost, "/api/v1/designs/design-1/sessions", nil, &snap)
	if w.Code != http.StatusCreated {
		t.Fatalf("start session: got %d (%s)", w.Code, w.Body.String())
	}
	if len(snap.Fields) != 1 || snap.Fields[0].Label != "Name" {
		t.Fatalf("unexpected fields: %+v", snap.Fields)
	}

	// submit before filling the required field is refused with its label
	w = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/submit", nil, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("premature submit: got %d (%s)", w.Code, w.Body.String())
	}
	var refusal map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &refusal); err != nil {
		t.Fatalf("decode refusal failed: %v", err)
	}
	if refusal["firstMissingLabel"] != "Name" {
		t.Errorf("got firstMissingLabel %q, want Name", refusal["firstMissingLabel"])
	}

	w = doJSON(t, r, http.MethodPut, "/api/v1/sessions/"+snap.ID+"/fields/0", map[string]string{"text": "Ann"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("set field: got %d (%s)", w.Code, w.Body.String())
	}

	var result services.ValidationResult
	w = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/validate", nil, &result)
	if w.Code != http.StatusOK || !result.AllFilled {
		t.Fatalf("validate: got %d, %+v", w.Code, result)
	}

	var payload struct {
		Token   string `json:"token"`
		Entries map[string]struct {
			Text string `json:"text"`
		} `json:"entries"`
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/submit", nil, &payload)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: got %d (%s)", w.Code, w.Body.String())
	}
	if payload.Token == "" || payload.Entries["0"].Text != "Ann" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	var checkoutState struct {
		SubmitEnabled bool            `json:"submitEnabled"`
		Payload       json.RawMessage `json:"payload"`
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+snap.ID+"/checkout", nil, &checkoutState)
	if w.Code != http.StatusOK {
		t.Fatalf("checkout: got %d", w.Code)
	}
	if !checkoutState.SubmitEnabled || checkoutState.Payload == nil {
		t.Errorf("checkout form not written: %+v", checkoutState)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/sessions/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", w.Code)
	}
}
