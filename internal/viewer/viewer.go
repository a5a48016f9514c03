// Package viewer resolves who a request is for: the user asserted by the
// upstream gateway and the profile the recommendations are computed for.
package viewer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/devdanny2024/wanzami-sub000/internal/catalog"
	apperrors "github.com/devdanny2024/wanzami-sub000/pkg/errors"
	"github.com/devdanny2024/wanzami-sub000/pkg/logger"
)

const (
	UserIDHeader    = "X-User-ID"
	ProfileIDHeader = "X-Profile-ID"
	ProfileIDParam  = "profileId"
)

// ProfileStore looks profiles up. Profile returns nil, nil when id is
// unknown; FirstProfile returns the user's earliest-created profile or nil.
type ProfileStore interface {
	Profile(ctx context.Context, id string) (*catalog.Profile, error)
	FirstProfile(ctx context.Context, userID string) (*catalog.Profile, error)
}

type contextKey string

const (
	userIDKey  contextKey = "viewer_user_id"
	profileKey contextKey = "viewer_profile"
)

// Authenticate rejects requests without the trusted user header. Health
// endpoints are exempt.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, r, apperrors.ErrUnauthorized, "missing "+UserIDHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// ResolveProfile picks the request's profile and stores it on the context.
// A selector naming a profile the user does not own is ignored in favour of
// the user's first profile.
func ResolveProfile(store ProfileStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r.Context())
			if userID == "" {
				writeError(w, r, apperrors.ErrUnauthorized, "missing "+UserIDHeader)
				return
			}
			profile, err := Resolve(r.Context(), store, userID, selector(r))
			if err != nil {
				writeError(w, r, err, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

// Resolve returns the profile named by selector when userID owns it, else
// the user's first-created profile.
func Resolve(ctx context.Context, store ProfileStore, userID, selector string) (*catalog.Profile, error) {
	if selector != "" {
		p, err := store.Profile(ctx, selector)
		if err != nil {
			return nil, apperrors.Upstream("loading profile", err)
		}
		if p != nil && p.UserID == userID {
			return p, nil
		}
		logger.FromContext(ctx).Debug("profile selector ignored", "profile_id", selector, "user_id", userID)
	}
	p, err := store.FirstProfile(ctx, userID)
	if err != nil {
		return nil, apperrors.Upstream("loading first profile", err)
	}
	if p == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNoProfile)
	}
	return p, nil
}

func selector(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get(ProfileIDParam)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(ProfileIDHeader))
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func WithProfile(ctx context.Context, p *catalog.Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// Profile returns the profile set by ResolveProfile, or nil.
func Profile(ctx context.Context) *catalog.Profile {
	p, _ := ctx.Value(profileKey).(*catalog.Profile)
	return p
}

// RateLimitKey keys per-viewer rate limits by user id, falling back to the
// remote address for unauthenticated paths.
func RateLimitKey(r *http.Request) (string, error) {
	if id := r.Header.Get(UserIDHeader); id != "" {
		return "user:" + id, nil
	}
	return r.RemoteAddr, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("profile resolution failed", "error", err)
		message = "profile lookup unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
