package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/pkg/lock"
)

// FakeAPI is an in-memory stand-in for the exhibits REST API. Bearer
// tokens map to user IDs through Token; unknown tokens get 401 on lock calls.
type FakeAPI struct {
	Server *httptest.Server

	mu      sync.Mutex
	records map[exhibitsapi.Kind]map[string]*exhibitsapi.Record
	hits    map[exhibitsapi.Kind][]exhibitsapi.Summary
	tokens  map[string]int64
	calls   []string
	fail    int
}

// NewFakeAPI starts a FakeAPI that is closed when the test completes.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		records: make(map[exhibitsapi.Kind]map[string]*exhibitsapi.Record),
		hits:    make(map[exhibitsapi.Kind][]exhibitsapi.Summary),
		tokens:  make(map[string]int64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/{$}", f.handlePing)
	mux.HandleFunc("GET /api/v1/{collection}", f.handleSearch)
	mux.HandleFunc("GET /api/v1/{collection}/{id}", f.handleGet)
	mux.HandleFunc("POST /api/v1/{collection}/{id}/lock", f.handleLock)
	mux.HandleFunc("DELETE /api/v1/{collection}/{id}/lock", f.handleUnlock)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API base URL to hand to exhibitsapi.New.
func (f *FakeAPI) URL() string { return f.Server.URL + "/api/v1" }

// Token registers a bearer token for userID.
func (f *FakeAPI) Token(token string, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = userID
}

// Put stores a record.
func (f *FakeAPI) Put(rec exhibitsapi.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[rec.Kind] == nil {
		f.records[rec.Kind] = make(map[string]*exhibitsapi.Record)
	}
	cp := rec
	f.records[rec.Kind][rec.UUID] = &cp
}

// Record returns a copy of a stored record.
func (f *FakeAPI) Record(kind exhibitsapi.Kind, id string) (exhibitsapi.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[kind][id]
	if !ok {
		return exhibitsapi.Record{}, false
	}
	return *r, true
}

// SetSearch sets the hits returned for every search of kind.
func (f *FakeAPI) SetSearch(kind exhibitsapi.Kind, hits []exhibitsapi.Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[kind] = hits
}

// FailNext makes the next n requests answer 503.
func (f *FakeAPI) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = n
}

// Calls returns "METHOD path" for every request received.
func (f *FakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func kindOf(collection string) exhibitsapi.Kind {
	if collection == "media" {
		return exhibitsapi.KindMedia
	}
	return exhibitsapi.Kind(strings.TrimSuffix(collection, "s"))
}

// begin records the call and reports whether the request should proceed.
func (f *FakeAPI) begin(w http.ResponseWriter, r *http.Request) bool {
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	if f.fail > 0 {
		f.fail--
		http.Error(w, `{"message":"maintenance"}`, http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (f *FakeAPI) handlePing(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begin(w, r) {
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *FakeAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begin(w, r) {
		return
	}
	hits := f.hits[kindOf(r.PathValue("collection"))]
	if hits == nil {
		hits = []exhibitsapi.Summary{}
	}
	writeFakeJSON(w, http.StatusOK, hits)
}

func (f *FakeAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begin(w, r) {
		return
	}
	rec, ok := f.records[kindOf(r.PathValue("collection"))][r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "no such record"})
		return
	}
	writeFakeJSON(w, http.StatusOK, rec)
}

func (f *FakeAPI) handleLock(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begin(w, r) {
		return
	}
	uid, ok := f.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unknown token"})
		return
	}
	rec, ok := f.records[kindOf(r.PathValue("collection"))][r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "no such record"})
		return
	}
	if bool(rec.IsLocked) && !rec.LockedByUserID.Equal(lock.NewUserID(uid)) {
		writeFakeJSON(w, http.StatusConflict, map[string]string{"message": "locked by another user"})
		return
	}
	rec.IsLocked = true
	rec.LockedByUserID = lock.NewUserID(uid)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeAPI) handleUnlock(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.begin(w, r) {
		return
	}
	rec, ok := f.records[kindOf(r.PathValue("collection"))][r.PathValue("id")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "no such record"})
		return
	}
	rec.IsLocked = false
	rec.LockedByUserID = lock.UserID{}
	w.WriteHeader(http.StatusNoContent)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
