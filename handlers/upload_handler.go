package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/MerlinStacks/productdesigner-sub001/services"
)

// maxUploadBytes caps customer image uploads at 10 MB.
const maxUploadBytes = 10 << 20

type UploadHandler struct {
	uploadService *services.UploadService
}

func NewUploadHandler(uploadService *services.UploadService) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
	}
}

// UploadImage accepts a multipart image for one imagePlaceholder field
// of a session. The session's upload gate is held for the duration, so
// a submit racing this request is refused until the outcome is known.
func (h *UploadHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	vars := mux.Vars(r)
	sessionID := vars["sessionID"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid field index")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithError(w, http.StatusBadRequest, "Image too large or malformed form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Form field 'image' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	switch contentType {
	case "image/png", "image/jpeg", "image/gif":
	default:
		respondWithError(w, http.StatusUnsupportedMediaType, "Only PNG, JPEG and GIF images are accepted")
		return
	}

	url, err := h.uploadService.UploadImage(ctx, sessionID, index, header.Filename, contentType, file)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			respondWithError(w, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("Upload failed for session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not store image")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"url": url})
}
