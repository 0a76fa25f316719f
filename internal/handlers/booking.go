package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/payment"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/store"
)

// BookingHandler provides checkout and booking endpoints.
type BookingHandler struct {
	bookings *services.BookingService
	tours    *services.TourService
	checkout payment.CheckoutProvider
}

// NewBookingHandler constructs a BookingHandler. checkout may be nil when
// no payment provider is configured.
func NewBookingHandler(bookings *services.BookingService, tours *services.TourService, checkout payment.CheckoutProvider) *BookingHandler {
	return &BookingHandler{bookings: bookings, tours: tours, checkout: checkout}
}

// BookingRouter registers booking routes. All routes require
// authentication.
func BookingRouter(r chi.Router, handler *BookingHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/checkout-session/{tourID}", handler.GetCheckoutSession)
		r.Get("/checkout-complete", handler.CheckoutComplete)
		r.Get("/my", handler.MyBookings)
	})
}

// GetCheckoutSession opens a hosted payment session for the tour.
func (h *BookingHandler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	if h.checkout == nil {
		writeErr(w, apperror.Internal("payments are not configured"))
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

	base := fmt.Sprintf("%s://%s", requestScheme(r), r.Host)
	session, err := h.checkout.CreateSession(r.Context(), payment.CheckoutInput{
		Tour:          tour,
		CustomerEmail: user.Email,
		SuccessURL:    fmt.Sprintf("%s/api/v1/bookings/checkout-complete?tour=%d&user=%d&price=%v", base, tour.ID, user.ID, tour.Price),
		CancelURL:     fmt.Sprintf("%s/api/v1/tours/%d", base, tour.ID),
	})
	if err != nil {
		writeErr(w, apperror.Internal("failed to create checkout session"))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"session": session})
}

// CheckoutComplete records the booking after a successful checkout and
// redirects to the same URL stripped of its query string.
func (h *BookingHandler) CheckoutComplete(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	query := r.URL.Query()
	tourID, err := strconv.Atoi(strings.TrimSpace(query.Get("tour")))
	if err != nil {
		writeErr(w, apperror.BadRequest("invalid tour reference"))
		return
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(query.Get("price")), 64)
	if err != nil || price <= 0 {
		writeErr(w, apperror.BadRequest("invalid price"))
		return
	}

	if _, err := h.tours.Get(r.Context(), tourID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, apperror.NotFound("tour not found"))
			return
		}
		writeErr(w, err)
		return
	}

	if _, err := h.bookings.Create(r.Context(), tourID, user.ID, price); err != nil {
		writeErr(w, apperror.Internal("failed to record booking"))
		return
	}

	http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
}

// MyBookings lists the current user's bookings.
func (h *BookingHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	bookings, err := h.bookings.ListByUser(r.Context(), user.ID)
	if err != nil {
		writeErr(w, err)
		return
	}

	results := len(bookings)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  "success",
		Results: &results,
		Data:    map[string]any{"bookings": bookings},
	})
}
