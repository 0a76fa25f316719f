package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/middleware"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/storage"
	"github.com/trailhead-tours/apiserver/types"
)

// TourHandler provides CRUD endpoints for tours.
type TourHandler struct {
	tours *services.TourService
	media *storage.MediaStore
}

// NewTourHandler constructs a TourHandler. media may be nil when no
// object storage backend is configured.
func NewTourHandler(tours *services.TourService, media *storage.MediaStore) *TourHandler {
	return &TourHandler{tours: tours, media: media}
}

// TourRouter registers tour routes. Reads are public; writes are
// restricted to admin and lead-guide.
func TourRouter(r chi.Router, handler *TourHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", handler.ListTours)
	r.Get("/{tourID}", handler.GetTour)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware, RequireRoles(types.RoleAdmin, types.RoleLeadGuide))
		r.Post("/", handler.CreateTour)
		r.Patch("/{tourID}", handler.UpdateTour)
		r.Delete("/{tourID}", handler.DeleteTour)
		r.Post("/{tourID}/cover", handler.UploadCover)
	})
}

type TourRequest struct {
	Name         string  `json:"name"`
	Duration     int     `json:"duration"`
	MaxGroupSize int     `json:"maxGroupSize"`
	Difficulty   string  `json:"difficulty"`
	Price        float64 `json:"price"`
	Summary      string  `json:"summary"`
	Description  string  `json:"description"`
	ImageCover   string  `json:"imageCover"`
}

func (h *TourHandler) ListTours(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, apperror.BadRequest(err.Error()))
		return
	}

	tours, total, err := h.tours.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	results := len(tours)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  "success",
		Results: &results,
		Data: map[string]any{
			"tours":       tours,
			"page":        page,
			"limit":       limit,
			"total":       total,
			"requestedAt": middleware.RequestTimeFrom(r.Context()),
		},
	})
}

func (h *TourHandler) GetTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeErr(w, apperror.BadRequest("invalid tour id"))
		return
	}

	tour, err := h.tours.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"tour": tour})
}

func (h *TourHandler) CreateTour(w http.ResponseWriter, r *http.Request) {
	req, appErr := parseTourRequest(r)
	if appErr != nil {
		writeErr(w, appErr)
		return
	}

	tour, err := h.tours.Create(r.Context(), types.Tour{
		Name:         req.Name,
		Duration:     req.Duration,
		MaxGroupSize: req.MaxGroupSize,
		Difficulty:   req.Difficulty,
		Price:        req.Price,
		Summary:      req.Summary,
		Description:  req.Description,
		ImageCover:   req.ImageCover,
	})
	if err != nil {
		writeErr(w, apperror.Internal("failed to create tour"))
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]any{"tour": tour})
}

func (h *TourHandler) UpdateTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeErr(w, apperror.BadRequest("invalid tour id"))
		return
	}

	current, err := h.tours.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	req, appErr := parseTourRequest(r)
	if appErr != nil {
		writeErr(w, appErr)
		return
	}

	current.Name = req.Name
	current.Duration = req.Duration
	current.MaxGroupSize = req.MaxGroupSize
	current.Difficulty = req.Difficulty
	current.Price = req.Price
	current.Summary = req.Summary
	current.Description = req.Description
	current.ImageCover = req.ImageCover

	updated, err := h.tours.Update(r.Context(), current)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"tour": updated})
}

func (h *TourHandler) DeleteTour(w http.ResponseWriter, r *http.Request) {
	id, err := parseTourID(r)
	if err != nil {
		writeErr(w, apperror.BadRequest("invalid tour id"))
		return
	}

	if err := h.tours.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadCover stores the tour's cover image in the media store and
// records its key on the tour.
func (h *TourHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	if h.media == nil {
		writeErr(w, apperror.Internal("media storage is not configured"))
		return
	}

	id, err := parseTourID(r)
	if err != nil {
		writeErr(w, apperror.BadRequest("invalid tour id"))
		return
	}

	tour, err := h.tours.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeErr(w, apperror.BadRequest("invalid multipart payload"))
		return
	}
	file, header, err := r.FormFile("cover")
	if err != nil {
		writeErr(w, apperror.BadRequest("cover file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key, err := h.media.PutTourCover(r.Context(), tour.ID, header.Filename, file, header.Size, contentType)
	if err != nil {
		writeErr(w, apperror.Internal("failed to store cover image"))
		return
	}

	previous := tour.ImageCover
	tour.ImageCover = key
	updated, err := h.tours.Update(r.Context(), tour)
	if err != nil {
		writeErr(w, err)
		return
	}
	if previous != "" && previous != key {
		_ = h.media.Delete(r.Context(), previous)
	}

	writeSuccess(w, http.StatusOK, map[string]any{"tour": updated})
}

func parseTourID(r *http.Request) (int, error) {
	return strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "tourID")))
}

func parseTourRequest(r *http.Request) (TourRequest, *apperror.Error) {
	var req TourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return TourRequest{}, apperror.BadRequest("invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Summary = strings.TrimSpace(req.Summary)
	if req.Name == "" || req.Summary == "" {
		return TourRequest{}, apperror.BadRequest("name and summary are required")
	}
	if req.Duration < 1 || req.MaxGroupSize < 1 || req.Price <= 0 {
		return TourRequest{}, apperror.BadRequest("duration, maxGroupSize and price must be positive")
	}
	switch req.Difficulty {
	case "easy", "medium", "difficult":
	default:
		return TourRequest{}, apperror.BadRequest("difficulty must be easy, medium or difficult")
	}
	return req, nil
}
