package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is the JSON shape of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Envelope is the JSON shape of every successful request.
type Envelope struct {
	Status  string `json:"status"`
	Token   string `json:"token,omitempty"`
	Results *int   `json:"results,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func currentUser(ctx context.Context) (types.User, error) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	if !ok {
		return types.User{}, errors.New("no authenticated user in context")
	}
	return user, nil
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Status: "success", Data: data})
}

// writeErr is the centralized error formatter: domain errors render with
// their status, store.ErrNotFound maps to 404, everything else is an
// opaque 500. 4xx statuses render as "fail", 5xx as "error".
func writeErr(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, store.ErrNotFound):
		appErr = apperror.NotFound("resource not found")
	default:
		appErr = apperror.Internal("something went very wrong")
	}

	status := "error"
	if appErr.Fail() {
		status = "fail"
	}
	writeJSON(w, appErr.Status, ErrorResponse{Status: status, Message: appErr.Message})
}

// NotFoundHandler is the catch-all for unmatched routes.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeErr(w, apperror.NotFound("can't find "+r.URL.Path+" on this server"))
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit, nil
}

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)
