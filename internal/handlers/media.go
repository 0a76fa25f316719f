package handlers

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/trailhead-tours/apiserver/internal/apperror"
	"github.com/trailhead-tours/apiserver/internal/storage"
)

// ServeMedia streams stored objects (user photos, tour covers) by key.
func ServeMedia(media *storage.MediaStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if key == "" {
			writeErr(w, apperror.NotFound("resource not found"))
			return
		}

		object, err := media.Get(r.Context(), key)
		if err != nil {
			writeErr(w, apperror.NotFound("resource not found"))
			return
		}
		defer object.Close()

		w.Header().Set("Content-Type", mediaContentType(key))
		_, _ = io.Copy(w, object)
	}
}

func mediaContentType(key string) string {
	switch path.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
