package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/MerlinStacks/productdesigner-sub001/internal/scene"
	"github.com/MerlinStacks/productdesigner-sub001/internal/store"
	"github.com/MerlinStacks/productdesigner-sub001/middleware"
	"github.com/MerlinStacks/productdesigner-sub001/services"
)

type DesignHandler struct {
	designService  *services.DesignService
	previewService *services.PreviewService
	publicBaseURL  string
}

func NewDesignHandler(designService *services.DesignService, previewService *services.PreviewService, publicBaseURL string) *DesignHandler {
	return &DesignHandler{
		designService:  designService,
		previewService: previewService,
		publicBaseURL:  publicBaseURL,
	}
}

// OpenDesign opens (or creates) a design for editing and returns its
// current document.
func (h *DesignHandler) OpenDesign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	merchantID, ok := middleware.GetMerchantID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Merchant not authenticated")
		return
	}

	designID := mux.Vars(r)["designID"]
	doc, err := h.designService.Open(ctx, designID)
	if err != nil {
		log.Printf("Design open failed for merchant %s: %v", merchantID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not open design")
		return
	}

	respondWithJSON(w, http.StatusOK, doc)
}

// GetDesign returns the open design's current document.
func (h *DesignHandler) GetDesign(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	doc, err := h.designService.Document(designID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Design is not open")
		return
	}
	respondWithJSON(w, http.StatusOK, doc)
}

// CloseDesign flushes pending changes and releases the design.
func (h *DesignHandler) CloseDesign(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	designID := mux.Vars(r)["designID"]
	if err := h.designService.Close(ctx, designID); err != nil {
		respondWithError(w, http.StatusNotFound, "Design is not open")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// GetSaveStatus returns the persistence indicator for the authoring UI.
func (h *DesignHandler) GetSaveStatus(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	status, err := h.designService.Status(designID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Design is not open")
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// AddObject appends a new object to the top of the design's stack.
func (h *DesignHandler) AddObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]

	var obj scene.Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !obj.Kind.Known() {
		respondWithError(w, http.StatusBadRequest, "Unknown object kind")
		return
	}

	index, err := h.designService.AddObject(designID, obj)
	if err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]int{"index": index})
}

// UpdateObject replaces the object at the index with the patched one.
func (h *DesignHandler) UpdateObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	var obj scene.Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.UpdateObject(designID, index, obj); err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteObject removes the object at the index.
func (h *DesignHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	if err := h.designService.RemoveObject(designID, index); err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// MoveObject reorders the stack.
func (h *DesignHandler) MoveObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	var req struct {
		To int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.MoveObject(designID, index, req.To); err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "moved"})
}

// SetTransform applies a drag, resize or rotate gesture.
func (h *DesignHandler) SetTransform(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	var req struct {
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		ScaleX float64 `json:"scaleX"`
		ScaleY float64 `json:"scaleY"`
		Angle  float64 `json:"angle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.SetTransform(designID, index, req.Left, req.Top, req.ScaleX, req.ScaleY, req.Angle); err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetVisibility toggles the visible flag of an object.
func (h *DesignHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	var req struct {
		Visible bool `json:"visible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.SetVisible(designID, index, req.Visible); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetLock toggles the locked flag of an object.
func (h *DesignHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]
	index, err := objectIndex(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid object index")
		return
	}

	var req struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.SetLocked(designID, index, req.Locked); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetActiveObject records the current selection and whether it is in
// text-edit mode.
func (h *DesignHandler) SetActiveObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]

	var req struct {
		Index       int  `json:"index"`
		TextEditing bool `json:"textEditing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.designService.SetActive(designID, req.Index, req.TextEditing); err != nil {
		respondWithError(w, http.StatusNotFound, "Design is not open")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteActiveObject is the Delete-key endpoint. It refuses while the
// selected object's text is being edited.
func (h *DesignHandler) DeleteActiveObject(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]

	if err := h.designService.RemoveActive(designID); err != nil {
		if errors.Is(err, services.ErrTextEditing) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SaveTemplate stores the whole open design as a reusable template.
func (h *DesignHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	designID := mux.Vars(r)["designID"]

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Template name is required")
		return
	}

	templateID, err := h.designService.SaveTemplate(ctx, designID, req.Name)
	if err != nil {
		if errors.Is(err, services.ErrDesignNotOpen) {
			respondWithError(w, http.StatusNotFound, "Design is not open")
			return
		}
		log.Printf("Template save failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Could not save template")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]string{"templateId": templateID})
}

// LoadTemplate replaces the open design with a stored template. The
// client sends confirmed=true after the merchant acknowledges the
// replacement.
func (h *DesignHandler) LoadTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	designID := mux.Vars(r)["designID"]

	var req struct {
		TemplateID string `json:"templateId"`
		Confirmed  bool   `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.designService.LoadTemplate(ctx, designID, req.TemplateID, req.Confirmed)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConfirmationNeed):
			respondWithError(w, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrDesignNotOpen):
			respondWithError(w, http.StatusNotFound, "Design is not open")
		case errors.Is(err, store.ErrTemplateNotFound):
			respondWithError(w, http.StatusNotFound, "Template not found")
		default:
			log.Printf("Template load failed: %v", err)
			respondWithError(w, http.StatusInternalServerError, "Could not load template")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

// ListTemplates lists the stored templates.
func (h *DesignHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	templates, err := h.designService.ListTemplates(ctx)
	if err != nil {
		log.Printf("Template list failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Could not list templates")
		return
	}
	respondWithJSON(w, http.StatusOK, templates)
}

// GetShareQR returns a QR code for the customer-facing product page of
// this design, base64-encoded PNG, so the merchant can test the live
// preview on a phone.
func (h *DesignHandler) GetShareQR(w http.ResponseWriter, r *http.Request) {
	designID := mux.Vars(r)["designID"]

	url := h.publicBaseURL + "/designs/" + designID + "/customize"
	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		log.Printf("QR generation failed for design %s: %v", designID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not generate QR code")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"url": url,
		"qr":  "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	})
}

// GetDesignPreview renders the open design as the merchant sees it,
// with placeholder content, sized to the width/height query params.
func (h *DesignHandler) GetDesignPreview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	designID := mux.Vars(r)["designID"]
	doc, err := h.designService.Document(designID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Design is not open")
		return
	}

	width, _ := strconv.ParseFloat(r.URL.Query().Get("width"), 64)
	height, _ := strconv.ParseFloat(r.URL.Query().Get("height"), 64)

	png, err := h.previewService.Render(ctx, doc, nil, width, height)
	if err != nil {
		log.Printf("Design preview failed for %s: %v", designID, err)
		respondWithError(w, http.StatusInternalServerError, "Could not render preview")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func objectIndex(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["index"])
}
