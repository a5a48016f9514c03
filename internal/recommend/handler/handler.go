// Package handler exposes the recommendation surfaces over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend"
	"github.com/devdanny2024/wanzami-sub000/internal/recommend/cache"
	"github.com/devdanny2024/wanzami-sub000/internal/viewer"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
)

// CacheHeader reports HIT or MISS on cached surfaces.
const CacheHeader = "X-Cache"

type Recommender interface {
	ContinueWatching(ctx context.Context, p catalog.Profile) (*recommend.ContinueWatching, error)
	BecauseYouWatched(ctx context.Context, p catalog.Profile) (*recommend.BecauseYouWatched, bool, error)
	ForYou(ctx context.Context, p catalog.Profile) (*recommend.ForYou, bool, error)
	CacheStats() []cache.Stats
}

type Handler struct {
	engine Recommender
	logger *slog.Logger
}

func New(engine Recommender) *Handler {
	return &Handler{
		engine: engine,
		logger: slog.Default().With("component", "recommend-handler"),
	}
}

func (h *Handler) ContinueWatching(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	out, err := h.engine.ContinueWatching(r.Context(), *p)
	if err != nil {
		h.fail(w, r, recommend.SurfaceContinueWatching, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) BecauseYouWatched(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	out, hit, err := h.engine.BecauseYouWatched(r.Context(), *p)
	if err != nil {
		h.fail(w, r, recommend.SurfaceBecauseYouWatched, err)
		return
	}
	setCacheHeader(w, hit)
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ForYou(w http.ResponseWriter, r *http.Request) {
	p, ok := h.profile(w, r)
	if !ok {
		return
	}
	out, hit, err := h.engine.ForYou(r.Context(), *p)
	if err != nil {
		h.fail(w, r, recommend.SurfaceForYou, err)
		return
	}
	setCacheHeader(w, hit)
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"surfaces": h.engine.CacheStats()})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) (*catalog.Profile, bool) {
	p := viewer.Profile(r.Context())
	if p == nil {
		h.writeError(w, http.StatusBadRequest, apperrors.ErrNoProfile.Error())
		return nil, false
	}
	return p, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, surface string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("surface failed", "surface", surface, "status", status, "error", err)
	} else {
		log.Warn("surface rejected", "surface", surface, "status", status, "error", err)
	}
	message := "recommendations unavailable"
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	h.writeError(w, status, message)
}

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set(CacheHeader, "HIT")
		return
	}
	w.Header().Set(CacheHeader, "MISS")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
