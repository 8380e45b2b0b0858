// Package browse owns the paged search results shown in the admin list
// views. Each browser session gets one Pager per record kind; a new search
// replaces the held result set and eviction from the session cache
// discards it.
package browse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/internal/metrics"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/pkg/pager"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// Errors returned by the browse operations.
var (
	ErrNoResults      = errors.New("no search results for this session")
	ErrPageOutOfRange = errors.New("page out of range")
)

// Searcher is the slice of the exhibits API that browse needs.
type Searcher interface {
	Search(ctx context.Context, kind exhibitsapi.Kind, query string) ([]exhibitsapi.Summary, error)
}

// PageView is one rendered page of results.
type PageView struct {
	Kind   exhibitsapi.Kind      `json:"kind"`
	Query  string                `json:"query"`
	Items  []exhibitsapi.Summary `json:"items"`
	Window pager.Window          `json:"window"`
	Pages  []pager.Item          `json:"pages"`
}

// results is one held search for one kind.
type results struct {
	query string
	pager *pager.Pager[exhibitsapi.Summary]
}

// session serialises access to its pagers.
type session struct {
	mu    sync.Mutex
	kinds map[exhibitsapi.Kind]*results
}

// Compile-time interface guards.
var (
	_ plugin.Plugin       = (*Module)(nil)
	_ plugin.HTTPProvider = (*Module)(nil)
	_ plugin.Validator    = (*Module)(nil)
)

// Module implements the browse module.
type Module struct {
	api      Searcher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	settings services.SettingsRepository
	defaults services.PagerPrefs
	sessions *lru.Cache[string, *session]
	newMu    sync.Mutex
}

// New creates a browse module that searches through api.
func New(api Searcher, m *metrics.Metrics) *Module {
	return &Module{api: api, metrics: m}
}

func (m *Module) Name() string    { return "browse" }
func (m *Module) Version() string { return "0.1.0" }

// Init reads page_size, max_visible and max_sessions from the module config.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	cfg := deps.Config
	m.defaults = services.PagerPrefs{PageSize: pager.DefaultPageSize, MaxVisible: pager.DefaultMaxVisible}
	maxSessions := 1024
	if cfg != nil {
		if cfg.IsSet("page_size") {
			m.defaults.PageSize = cfg.GetInt("page_size")
		}
		if cfg.IsSet("max_visible") {
			m.defaults.MaxVisible = cfg.GetInt("max_visible")
		}
		if cfg.IsSet("max_sessions") {
			maxSessions = cfg.GetInt("max_sessions")
		}
	}
	if maxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", maxSessions)
	}

	cache, err := lru.NewWithEvict(maxSessions, func(id string, _ *session) {
		m.logger.Debug("browse session evicted", zap.String("session", id))
	})
	if err != nil {
		return fmt.Errorf("create session cache: %w", err)
	}
	m.sessions = cache

	if deps.Store != nil {
		repo, err := services.NewSQLiteSettingsRepository(ctx, deps.Store)
		if err != nil {
			return err
		}
		m.settings = repo
	}

	m.logger.Info("browse module initialized",
		zap.Int("page_size", m.defaults.PageSize),
		zap.Int("max_visible", m.defaults.MaxVisible),
		zap.Int("max_sessions", maxSessions),
	)
	return nil
}

// ValidateConfig rejects non-positive pager defaults.
func (m *Module) ValidateConfig() error {
	return m.defaults.Validate()
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error {
	if m.sessions != nil {
		m.sessions.Purge()
	}
	return nil
}

// Search runs a search and replaces the session's held results for kind.
// The response is page 1.
func (m *Module) Search(ctx context.Context, sessionID string, kind exhibitsapi.Kind, query string) (*PageView, error) {
	hits, err := m.api.Search(ctx, kind, query)
	if err != nil {
		m.metrics.ObserveUpstream(exhibitsapi.Classify(err))
		return nil, err
	}

	prefs := m.prefs(ctx)
	p := pager.New[exhibitsapi.Summary](
		pager.WithPageSize(prefs.PageSize),
		pager.WithMaxVisible(prefs.MaxVisible),
	)
	p.SetResults(hits)

	s := m.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &results{query: query, pager: p}
	s.kinds[kind] = res

	m.logger.Debug("search results replaced",
		zap.String("session", sessionID),
		zap.String("kind", string(kind)),
		zap.Int("results", p.Len()),
	)
	return view(kind, res, p.Current()), nil
}

// Page moves to page n of the held results.
func (m *Module) Page(sessionID string, kind exhibitsapi.Kind, n int) (*PageView, error) {
	return m.navigate(sessionID, kind, func(p *pager.Pager[exhibitsapi.Summary]) ([]exhibitsapi.Summary, bool) {
		return p.Page(n)
	})
}

// Next advances one page.
func (m *Module) Next(sessionID string, kind exhibitsapi.Kind) (*PageView, error) {
	return m.navigate(sessionID, kind, (*pager.Pager[exhibitsapi.Summary]).Next)
}

// Previous steps back one page.
func (m *Module) Previous(sessionID string, kind exhibitsapi.Kind) (*PageView, error) {
	return m.navigate(sessionID, kind, (*pager.Pager[exhibitsapi.Summary]).Previous)
}

// Current returns the current page without moving.
func (m *Module) Current(sessionID string, kind exhibitsapi.Kind) (*PageView, error) {
	return m.navigate(sessionID, kind, func(p *pager.Pager[exhibitsapi.Summary]) ([]exhibitsapi.Summary, bool) {
		return p.Current(), true
	})
}

// Reset drops the held results for kind.
func (m *Module) Reset(sessionID string, kind exhibitsapi.Kind) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kinds, kind)
}

func (m *Module) navigate(sessionID string, kind exhibitsapi.Kind,
	move func(*pager.Pager[exhibitsapi.Summary]) ([]exhibitsapi.Summary, bool)) (*PageView, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNoResults
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.kinds[kind]
	if !ok {
		return nil, ErrNoResults
	}
	items, ok := move(res.pager)
	m.metrics.ObservePage(ok)
	if !ok {
		return nil, ErrPageOutOfRange
	}
	return view(kind, res, items), nil
}

// session returns the session for id, creating it when absent.
func (m *Module) session(id string) *session {
	m.newMu.Lock()
	defer m.newMu.Unlock()
	if s, ok := m.sessions.Get(id); ok {
		return s
	}
	s := &session{kinds: make(map[exhibitsapi.Kind]*results)}
	m.sessions.Add(id, s)
	return s
}

// prefs returns the stored pager preferences, falling back to config
// defaults when the settings store is unavailable.
func (m *Module) prefs(ctx context.Context) services.PagerPrefs {
	if m.settings == nil {
		return m.defaults
	}
	prefs, err := services.LoadPagerPrefs(ctx, m.settings, m.defaults)
	if err != nil {
		m.logger.Warn("failed to load pager preferences, using defaults", zap.Error(err))
		return m.defaults
	}
	return prefs
}

func view(kind exhibitsapi.Kind, res *results, items []exhibitsapi.Summary) *PageView {
	return &PageView{
		Kind:   kind,
		Query:  res.query,
		Items:  items,
		Window: res.pager.Window(),
		Pages:  res.pager.VisiblePages(),
	}
}
