package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/services"
	"github.com/trailhead-tours/apiserver/internal/storage"
	"github.com/trailhead-tours/apiserver/internal/store"
	"github.com/trailhead-tours/apiserver/types"
)

const maxPhotoBytes = 5 << 20

// UserHandler provides profile endpoints for the authenticated user and
// the admin user listing.
type UserHandler struct {
	users *services.UserService
	media *storage.MediaStore
}

// NewUserHandler constructs a UserHandler. media may be nil when no
// object storage backend is configured.
func NewUserHandler(users *services.UserService, media *storage.MediaStore) *UserHandler {
	return &UserHandler{users: users, media: media}
}

// UserRouter registers user routes on the given router. All routes
// require authentication; the listing additionally requires admin.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/me", handler.Me)
		r.Patch("/updateMe", handler.UpdateMe)
		r.Delete("/deleteMe", handler.DeleteMe)
		r.Post("/me/photo", handler.UploadPhoto)
		r.With(RequireRoles(types.RoleAdmin)).Get("/", handler.ListUsers)
	})
}

// UpdateMeRequest is the allow-listed profile update payload. Unknown
// fields are rejected at the boundary; password fields have their own
// endpoint.
type UpdateMeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user": user})
}

// UpdateMe mutates the allow-listed profile fields of the current user.
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var req UpdateMeRequest
	if err := decoder.Decode(&req); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			writeErr(w, apperror.BadRequest("this route only accepts name and email; use /updateMyPassword for password updates"))
			return
		}
		writeErr(w, apperror.BadRequest("invalid request body"))
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Name == "" {
		req.Name = user.Name
	}
	if req.Email == "" {
		req.Email = user.Email
	}
	if !strings.Contains(req.Email, "@") {
		writeErr(w, apperror.BadRequest("please provide a valid email"))
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), user.ID, req.Name, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeErr(w, apperror.BadRequest("email already in use"))
			return
		}
		writeErr(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"user": updated})
}

// DeleteMe deactivates the current user. The record is kept; the account
// simply disappears from every read path.
func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	if err := h.users.Deactivate(r.Context(), user.ID); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadPhoto stores the user's profile photo in the media store.
func (h *UserHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		writeErr(w, apperror.Unauthenticated("you are not logged in, please log in to get access"))
		return
	}

	if h.media == nil {
		writeErr(w, apperror.Internal("media storage is not configured"))
		return
	}

	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		writeErr(w, apperror.BadRequest("invalid multipart payload"))
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		writeErr(w, apperror.BadRequest("photo file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key, err := h.media.PutUserPhoto(r.Context(), user.ID, header.Filename, file, header.Size, contentType)
	if err != nil {
		writeErr(w, apperror.Internal("failed to store photo"))
		return
	}

	if err := h.users.SetPhoto(r.Context(), user.ID, key); err != nil {
		writeErr(w, err)
		return
	}
	if user.Photo != "" && user.Photo != key {
		// The replaced object would otherwise leak in the bucket.
		_ = h.media.Delete(r.Context(), user.Photo)
	}

	writeSuccess(w, http.StatusOK, map[string]any{"photo": key})
}

// ListUsers returns all active users. Admin only.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeErr(w, apperror.BadRequest(err.Error()))
		return
	}

	users, total, err := h.users.List(r.Context(), offset, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	results := len(users)
	writeJSON(w, http.StatusOK, Envelope{
		Status:  "success",
		Results: &results,
		Data:    map[string]any{"users": users, "page": page, "limit": limit, "total": total},
	})
}
