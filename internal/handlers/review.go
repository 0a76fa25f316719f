package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/types"
)

// ReviewHandler provides review endpoints.
type ReviewHandler struct {
	reviews *services.ReviewService
	tours   *services.TourService
}

func NewReviewHandler(reviews *services.ReviewService, tours *services.TourService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews, tours: tours}
}

// ReviewRouter registers review routes. Listing is public; creating a
// review requires an authenticated user with the plain user role.
func ReviewRouter(r chi.Router, handler *ReviewHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Get("/", handler.ListReviews)
	r.With(authMiddleware, RequireRoles(types.RoleUser)).Post("/", handler.CreateReview)
}

type ReviewRequest struct {
	Review string `json:"review"`
	Rating int    `json:"rating"`
	TourID int    `json:"tour_id"`
}

func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, apperror.BadRequest(err.Error()))
		return
	}

	reviews, total, err := h.reviews.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	results := len(reviews)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  "success",
		Results: &results,
		Data:    map[string]any{"reviews": reviews, "page": page, "limit": limit, "total": total},
	})
}

func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	req.Review = strings.TrimSpace(req.Review)
	if req.Review == "" {
		writeErr(w, apperror.BadRequest("review text is required"))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeErr(w, apperror.BadRequest("rating must be between 1 and 5"))
		return
	}

	if _, err := h.tours.Get(r.Context(), req.TourID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, apperror.NotFound("tour not found"))
			return
		}
		writeErr(w, err)
		return
	}

	review, err := h.reviews.Create(r.Context(), types.Review{
		Review: req.Review,
		Rating: req.Rating,
		TourID: req.TourID,
		UserID: user.ID,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateReview) {
			writeErr(w, apperror.BadRequest("you have already reviewed this tour"))
			return
		}
		writeErr(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]any{"review": review})
}
