package browse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// SessionHeader carries the browser session that owns a result set.
const SessionHeader = "X-Session-ID"

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/{kind}", Handler: m.handleSearch},
		{Method: "GET", Path: "/{kind}/current", Handler: m.handleCurrent},
		{Method: "GET", Path: "/{kind}/pages/{n}", Handler: m.handlePage},
		{Method: "POST", Path: "/{kind}/next", Handler: m.handleNext},
		{Method: "POST", Path: "/{kind}/previous", Handler: m.handlePrevious},
		{Method: "DELETE", Path: "/{kind}", Handler: m.handleReset},
	}
}

// handleSearch runs a search and returns page 1.
//
//	@Summary		Search records
//	@Description	Searches the exhibits API and holds the results for paging. A session id is issued when the request has none.
//	@Tags			browse
//	@Produce		json
//	@Security		BearerAuth
//	@Param			kind	path		string	true	"Record kind"
//	@Param			q		query		string	false	"Search text"
//	@Success		200		{object}	PageView
//	@Failure		400		{object}	map[string]any
//	@Failure		502		{object}	map[string]any
//	@Router			/browse/{kind} [get]
func (m *Module) handleSearch(w http.ResponseWriter, r *http.Request) {
	kind, ok := browseKind(w, r)
	if !ok {
		return
	}
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	w.Header().Set(SessionHeader, sessionID)

	ctx := exhibitsapi.WithToken(r.Context(), auth.TokenFrom(r.Context()))
	view, err := m.Search(ctx, sessionID, kind, r.URL.Query().Get("q"))
	if err != nil {
		m.logger.Warn("search failed", zap.String("kind", string(kind)), zap.Error(err))
		browseWriteError(w, upstreamStatus(err), "search failed: "+err.Error())
		return
	}
	browseWriteJSON(w, http.StatusOK, view)
}

// handleCurrent returns the current page of the held results.
//
//	@Summary		Current page
//	@Tags			browse
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	PageView
//	@Failure		404	{object}	map[string]any
//	@Router			/browse/{kind}/current [get]
func (m *Module) handleCurrent(w http.ResponseWriter, r *http.Request) {
	m.serveNavigation(w, r, func(sessionID string, kind exhibitsapi.Kind) (*PageView, error) {
		return m.Current(sessionID, kind)
	})
}

// handlePage jumps to page n.
//
//	@Summary		Go to page
//	@Tags			browse
//	@Produce		json
//	@Security		BearerAuth
//	@Param			n	path		int	true	"1-based page number"
//	@Success		200	{object}	PageView
//	@Failure		400	{object}	map[string]any	"Page out of range"
//	@Failure		404	{object}	map[string]any	"No held results"
//	@Router			/browse/{kind}/pages/{n} [get]
func (m *Module) handlePage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		browseWriteError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	m.serveNavigation(w, r, func(sessionID string, kind exhibitsapi.Kind) (*PageView, error) {
		return m.Page(sessionID, kind, n)
	})
}

func (m *Module) handleNext(w http.ResponseWriter, r *http.Request) {
	m.serveNavigation(w, r, m.Next)
}

func (m *Module) handlePrevious(w http.ResponseWriter, r *http.Request) {
	m.serveNavigation(w, r, m.Previous)
}

func (m *Module) handleReset(w http.ResponseWriter, r *http.Request) {
	kind, ok := browseKind(w, r)
	if !ok {
		return
	}
	if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
		m.Reset(sessionID, kind)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) serveNavigation(w http.ResponseWriter, r *http.Request,
	nav func(sessionID string, kind exhibitsapi.Kind) (*PageView, error)) {
	kind, ok := browseKind(w, r)
	if !ok {
		return
	}
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		browseWriteError(w, http.StatusBadRequest, SessionHeader+" header is required")
		return
	}

	view, err := nav(sessionID, kind)
	switch {
	case errors.Is(err, ErrNoResults):
		browseWriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPageOutOfRange):
		browseWriteError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		browseWriteError(w, http.StatusInternalServerError, err.Error())
	default:
		browseWriteJSON(w, http.StatusOK, view)
	}
}

// --- Helpers ---

func browseKind(w http.ResponseWriter, r *http.Request) (exhibitsapi.Kind, bool) {
	kind, err := exhibitsapi.ParseKind(r.PathValue("kind"))
	if err != nil {
		browseWriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return kind, true
}

// upstreamStatus maps exhibits API failures to a response status.
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, exhibitsapi.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exhibitsapi.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exhibitsapi.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// browseWriteJSON writes a JSON response with the given status code.
func browseWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// browseWriteError writes a problem+json error response.
func browseWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   fmt.Sprintf("https://exhibitdesk.dev/problems/browse-%d", status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
