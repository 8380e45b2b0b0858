// Package settings serves the runtime-adjustable pager preferences.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// SettingsProblemDetail represents an RFC 7807 error response for settings endpoints.
// @Description RFC 7807 Problem Details error response.
type SettingsProblemDetail struct {
	Type   string `json:"type" example:"https://exhibitdesk.dev/problems/settings-error"`
	Title  string `json:"title" example:"Bad Request"`
	Status int    `json:"status" example:"400"`
	Detail string `json:"detail" example:"page_size must be positive, got 0"`
}

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Handler)(nil)
	_ plugin.HTTPProvider = (*Handler)(nil)
)

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	settings services.SettingsRepository
	defaults services.PagerPrefs
	logger   *zap.Logger
}

// NewHandler creates a settings Handler. defaults are reported for any
// preference that has never been saved.
func NewHandler(defaults services.PagerPrefs) *Handler {
	return &Handler{defaults: defaults}
}

func (h *Handler) Name() string    { return "settings" }
func (h *Handler) Version() string { return "0.1.0" }

func (h *Handler) Init(ctx context.Context, deps plugin.Dependencies) error {
	h.logger = deps.Logger
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if deps.Store == nil {
		return fmt.Errorf("settings: store is required")
	}
	repo, err := services.NewSQLiteSettingsRepository(ctx, deps.Store)
	if err != nil {
		return err
	}
	h.settings = repo
	return nil
}

func (h *Handler) Start(_ context.Context) error { return nil }
func (h *Handler) Stop(_ context.Context) error  { return nil }

// Routes implements plugin.HTTPProvider.
func (h *Handler) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/pager", Handler: h.handleGetPager},
		{Method: "PUT", Path: "/pager", Handler: h.handleSetPager},
		{Method: "DELETE", Path: "/pager", Handler: h.handleResetPager},
	}
}

// handleGetPager returns the effective pager preferences.
//
//	@Summary		Get pager preferences
//	@Description	Page size and visible page count used for new searches.
//	@Tags			settings
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	services.PagerPrefs		"Current preferences"
//	@Failure		500	{object}	SettingsProblemDetail	"Internal server error"
//	@Router			/settings/pager [get]
func (h *Handler) handleGetPager(w http.ResponseWriter, r *http.Request) {
	prefs, err := services.LoadPagerPrefs(r.Context(), h.settings, h.defaults)
	if err != nil {
		h.logger.Error("failed to load pager preferences", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to load pager preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handleSetPager saves new pager preferences. They apply to the next search.
//
//	@Summary		Set pager preferences
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		services.PagerPrefs		true	"New preferences"
//	@Success		200		{object}	services.PagerPrefs		"Preferences saved"
//	@Failure		400		{object}	SettingsProblemDetail	"Invalid request or non-positive value"
//	@Failure		500		{object}	SettingsProblemDetail	"Internal server error"
//	@Router			/settings/pager [put]
func (h *Handler) handleSetPager(w http.ResponseWriter, r *http.Request) {
	var req services.PagerPrefs
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSettingsError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeSettingsError(w, http.StatusBadRequest, err.Error())
		return
	}

	updatedBy := ""
	if actor := auth.ActorFrom(r.Context()); actor != nil {
		updatedBy = actor.UserID.String()
	}
	if err := services.SavePagerPrefs(r.Context(), h.settings, req, updatedBy); err != nil {
		h.logger.Error("failed to save pager preferences", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to save pager preferences")
		return
	}
	h.logger.Info("pager preferences updated",
		zap.Int("page_size", req.PageSize),
		zap.Int("max_visible", req.MaxVisible),
		zap.String("updated_by", updatedBy),
	)
	writeJSON(w, http.StatusOK, req)
}

// handleResetPager drops stored preferences and returns the defaults that
// apply again.
//
//	@Summary		Reset pager preferences
//	@Tags			settings
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	services.PagerPrefs		"Configured defaults"
//	@Failure		500	{object}	SettingsProblemDetail	"Internal server error"
//	@Router			/settings/pager [delete]
func (h *Handler) handleResetPager(w http.ResponseWriter, r *http.Request) {
	if err := services.ResetPagerPrefs(r.Context(), h.settings); err != nil {
		h.logger.Error("failed to reset pager preferences", zap.Error(err))
		writeSettingsError(w, http.StatusInternalServerError, "failed to reset pager preferences")
		return
	}
	h.logger.Info("pager preferences reset to defaults")
	writeJSON(w, http.StatusOK, h.defaults)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSettingsError writes an RFC 7807 problem response.
func writeSettingsError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://exhibitdesk.dev/problems/settings-error",
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
