package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/audit", Handler: m.handleAudit},
		{Method: "GET", Path: "/audit.csv", Handler: m.handleAuditCSV},
		{Method: "GET", Path: "/events", Handler: m.handleEvents},
		{Method: "GET", Path: "/{kind}/{id}", Handler: m.handleOpen},
		{Method: "POST", Path: "/{kind}/{id}/release", Handler: m.handleRelease},
		{Method: "POST", Path: "/{kind}/{id}/override", Handler: m.handleOverride},
	}
}

// handleOpen loads a record for the edit form.
//
//	@Summary		Open record
//	@Description	Returns the record with the lock decision and the form controls to disable.
//	@Tags			editor
//	@Produce		json
//	@Security		BearerAuth
//	@Param			kind	path		string	true	"Record kind"
//	@Param			id		path		string	true	"Record UUID"
//	@Success		200		{object}	FormState
//	@Failure		404		{object}	map[string]any
//	@Failure		502		{object}	map[string]any
//	@Router			/editor/{kind}/{id} [get]
func (m *Module) handleOpen(w http.ResponseWriter, r *http.Request) {
	kind, ok := editorKind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	ctx := exhibitsapi.WithToken(r.Context(), auth.TokenFrom(r.Context()))

	state, err := m.Open(ctx, auth.ActorFrom(r.Context()), kind, id)
	if err != nil {
		m.logger.Warn("open record failed", zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
		editorWriteError(w, errorStatus(err), err.Error())
		return
	}
	editorWriteJSON(w, http.StatusOK, state)
}

// handleRelease gives up the caller's lock when the form is left.
//
//	@Summary		Release lock
//	@Tags			editor
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	map[string]bool
//	@Router			/editor/{kind}/{id}/release [post]
func (m *Module) handleRelease(w http.ResponseWriter, r *http.Request) {
	kind, ok := editorKind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	ctx := exhibitsapi.WithToken(r.Context(), auth.TokenFrom(r.Context()))

	released, err := m.Release(ctx, auth.ActorFrom(r.Context()), kind, id)
	if err != nil {
		m.logger.Warn("release failed", zap.String("kind", string(kind)), zap.String("id", id), zap.Error(err))
		editorWriteError(w, errorStatus(err), err.Error())
		return
	}
	editorWriteJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// handleOverride breaks another user's lock.
//
//	@Summary		Override lock
//	@Description	Administrators only. Unlocks a record held by another user and records the override.
//	@Tags			editor
//	@Security		BearerAuth
//	@Success		204
//	@Failure		403	{object}	map[string]any
//	@Router			/editor/{kind}/{id}/override [post]
func (m *Module) handleOverride(w http.ResponseWriter, r *http.Request) {
	kind, ok := editorKind(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	ctx := exhibitsapi.WithToken(r.Context(), auth.TokenFrom(r.Context()))

	if err := m.ForceUnlock(ctx, auth.ActorFrom(r.Context()), kind, id); err != nil {
		editorWriteError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAudit lists lock overrides, newest first.
//
//	@Summary		Lock override audit log
//	@Tags			editor
//	@Produce		json
//	@Security		BearerAuth
//	@Param			kind	query		string	false	"Filter by record kind"
//	@Param			limit	query		int		false	"Max entries (default 50)"
//	@Param			offset	query		int		false	"Entries to skip"
//	@Success		200		{object}	services.ListResult[services.AuditEntry]
//	@Failure		403		{object}	map[string]any
//	@Router			/editor/audit [get]
func (m *Module) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	opts := services.ListOptions{}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			editorWriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			editorWriteError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		opts.Offset = n
	}

	result, err := m.Audit(r.Context(), q.Get("kind"), opts)
	if err != nil {
		m.logger.Error("list audit entries failed", zap.Error(err))
		editorWriteError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	editorWriteJSON(w, http.StatusOK, result)
}

// --- Helpers ---

// requireAdmin answers 403 unless the caller is an administrator.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if actor := auth.ActorFrom(r.Context()); actor != nil && actor.IsAdministrator {
		return true
	}
	editorWriteError(w, http.StatusForbidden, "audit log is restricted to administrators")
	return false
}

func editorKind(w http.ResponseWriter, r *http.Request) (exhibitsapi.Kind, bool) {
	kind, err := exhibitsapi.ParseKind(r.PathValue("kind"))
	if err != nil {
		editorWriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return kind, true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrForbidden), errors.Is(err, exhibitsapi.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exhibitsapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exhibitsapi.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, exhibitsapi.ErrUnavailable):
		return http.StatusBadGateway
	default:
		var se *exhibitsapi.StatusError
		if errors.As(err, &se) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

// editorWriteJSON writes a JSON response with the given status code.
func editorWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// editorWriteError writes a problem+json error response.
func editorWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   fmt.Sprintf("https://exhibitdesk.dev/problems/editor-%d", status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
