package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MerlinStacks/productdesigner-sub001/internal/personalization"
	"github.com/MerlinStacks/productdesigner-sub001/middleware"
	"github.com/MerlinStacks/productdesigner-sub001/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type SessionHandler struct {
	submissionService *services.SubmissionService
	previewService    *services.PreviewService
	checkout          *services.CheckoutRecorder
}

func NewSessionHandler(submissionService *services.SubmissionService, previewService *services.PreviewService, checkout *services.CheckoutRecorder) *SessionHandler {
	return &SessionHandler{
		submissionService: submissionService,
		previewService:    previewService,
		checkout:          checkout,
	}
}

// StartSession opens a customization session for a design. The shopper
// gets the synthesized field list and a session ID for everything else.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	designID := mux.Vars(r)["designID"]
	snap, err := h.submissionService.StartSession(ctx, designID)
	if err != nil {
		log.Printf("Session start failed for design %s: %v", designID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not start session")
		return
	}

	respondWithJSON(w, http.StatusCreated, snap)
}

// GetSession returns the session's current snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	sess, ok := h.submissionService.Session(sessionID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, sess.Snapshot())
}

// SetFieldValue stores one entered value on the session.
func (h *SessionHandler) SetFieldValue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["sessionID"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid field index")
		return
	}

	var value personalization.Value
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := h.submissionService.SetFieldValue(sessionID, index, value)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			respondWithError(w, http.StatusNotFound, "Session not found")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

// ValidateSession runs the completeness check without submitting.
func (h *SessionHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	result, err := h.submissionService.ValidateSession(sessionID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Submit assembles the payload and hands it to the checkout form.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	payload, err := h.submissionService.Submit(sessionID)
	if err != nil {
		var missing *services.MissingFieldError
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			respondWithError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, services.ErrUploadsInFlight):
			middleware.CountBlockedSubmission("uploads_in_flight")
			respondWithError(w, http.StatusConflict, err.Error())
		case errors.As(err, &missing):
			middleware.CountBlockedSubmission("missing_field")
			respondWithJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":             err.Error(),
				"firstMissingLabel": missing.Label,
			})
		default:
			log.Printf("Submit failed for session %s: %v", sessionID, err)
			respondWithError(w, http.StatusInternalServerError, "Could not submit")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// GetCheckout exposes what the session last wrote to the host page's
// checkout form.
func (h *SessionHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	payload, enabled := h.checkout.Read(sessionID)

	response := map[string]interface{}{"submitEnabled": enabled}
	if payload != nil {
		response["payload"] = json.RawMessage(payload)
	}
	respondWithJSON(w, http.StatusOK, response)
}

// GetFulfillment returns the document and payload pair the print
// consumer resolves bindings from. Only available after submission.
func (h *SessionHandler) GetFulfillment(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	doc, payload, err := h.submissionService.FulfillmentPair(sessionID)
	if err != nil {
		if errors.Is(err, services.ErrNotSubmitted) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"document": doc,
		"payload":  payload,
	})
}

// GetPreview renders the session's current state as a PNG sized to the
// container passed in the width/height query parameters. A preview
// superseded by a newer resize returns 409 and the client just waits
// for the newer one.
func (h *SessionHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	sessionID := mux.Vars(r)["sessionID"]
	sess, ok := h.submissionService.Session(sessionID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}

	width, _ := strconv.ParseFloat(r.URL.Query().Get("width"), 64)
	height, _ := strconv.ParseFloat(r.URL.Query().Get("height"), 64)

	start := time.Now()
	png, err := h.previewService.RenderSession(ctx, sess, width, height)
	if err != nil {
		if errors.Is(err, services.ErrRenderSuperseded) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Preview render failed for session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not render preview")
		return
	}
	middleware.ObservePreviewRender(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// JoinLive upgrades to a websocket carrying live session updates:
// every field edit is broadcast to all previews of the same session.
func (h *SessionHandler) JoinLive(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	sess, ok := h.submissionService.Session(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &services.Client{
		Session: sess,
		Conn:    conn,
		Send:    make(chan []byte, 256),
	}

	client.Session.AddClient(client)
	go client.WritePump()
	go client.ReadPump(h.submissionService)
}

// EndSession tears the session down: the live hub stops and the
// checkout form is cleared. Called when the shopper leaves the page.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	if err := h.submissionService.EndSession(sessionID); err != nil {
		respondWithError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}
