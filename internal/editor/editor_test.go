package editor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/auth"
	"github.com/HerbHall/exhibitdesk/internal/event"
	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/internal/metrics"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/internal/testutil"
	"github.com/HerbHall/exhibitdesk/pkg/lock"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

var (
	holder = &lock.Actor{UserID: lock.NewUserID(7)}
	editor = &lock.Actor{UserID: lock.NewUserID(9)}
	admin  = &lock.Actor{UserID: lock.NewUserID(9), IsAdministrator: true}
)

type env struct {
	fake    *testutil.FakeAPI
	bus     *testutil.MockBus
	metrics *metrics.Metrics
	mod     *Module
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	fake.Token("tok7", 7)
	fake.Token("tok9", 9)
	client, err := exhibitsapi.New(exhibitsapi.Options{BaseURL: fake.URL(), Timeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	e := &env{fake: fake, bus: testutil.NewMockBus(), metrics: metrics.New()}
	e.mod = New(client, e.metrics)
	require.NoError(t, e.mod.Init(context.Background(), plugin.Dependencies{
		Config: viper.New(),
		Logger: zap.NewNop(),
		Store:  testutil.NewStore(t),
		Bus:    e.bus,
	}))
	return e
}

func as(token string) context.Context {
	return exhibitsapi.WithToken(context.Background(), token)
}

func topics(bus *testutil.MockBus) []string {
	var out []string
	for _, ev := range bus.Events() {
		out = append(out, ev.Topic)
	}
	return out
}

func TestOpenUnlockedAcquiresLock(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord()
	e.fake.Put(rec)

	state, err := e.mod.Open(as("tok7"), holder, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, lock.Decision{Editable: true}, state.Decision)
	assert.Empty(t, state.DisabledControls)
	assert.Empty(t, state.OverrideControls)

	stored, _ := e.fake.Record(exhibitsapi.KindExhibit, rec.UUID)
	assert.True(t, bool(stored.IsLocked))
	assert.True(t, stored.LockedByUserID.Equal(lock.NewUserID(7)))

	assert.Equal(t, []string{event.TopicRecordOpened}, topics(e.bus))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.LockDecisions.WithLabelValues("editable")))
}

func TestOpenWithoutActorLeavesRecordUnlocked(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord()
	e.fake.Put(rec)

	state, err := e.mod.Open(context.Background(), nil, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	assert.True(t, state.Decision.Editable)
	assert.NotContains(t, e.fake.Calls(), "POST /api/v1/exhibits/"+rec.UUID+"/lock")
}

func TestOpenLockedByOther(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.WithKind(exhibitsapi.KindTimeline), testutil.LockedBy(7))
	e.fake.Put(rec)

	state, err := e.mod.Open(as("tok9"), editor, exhibitsapi.KindTimeline, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, lock.Decision{}, state.Decision)
	if diff := cmp.Diff(Controls(exhibitsapi.KindTimeline), state.DisabledControls); diff != "" {
		t.Errorf("disabled controls mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, state.OverrideControls)

	stored, _ := e.fake.Record(exhibitsapi.KindTimeline, rec.UUID)
	assert.True(t, stored.LockedByUserID.Equal(lock.NewUserID(7)), "open must not steal the lock")
}

func TestOpenLockedByOtherAsAdmin(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.WithKind(exhibitsapi.KindMedia), testutil.LockedBy(7))
	e.fake.Put(rec)

	state, err := e.mod.Open(as("tok9"), admin, exhibitsapi.KindMedia, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, lock.Decision{ShowAdminOverride: true}, state.Decision)
	assert.Equal(t, []string{OverrideControl}, state.OverrideControls)
	assert.NotContains(t, state.DisabledControls, OverrideControl)
	assert.Contains(t, state.DisabledControls, "upload")
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.LockDecisions.WithLabelValues("override")))
}

func TestOpenByHolderKeepsEditing(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	state, err := e.mod.Open(as("tok7"), holder, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	assert.True(t, state.Decision.Editable)
}

func TestOpenMissingRecord(t *testing.T) {
	e := newEnv(t)
	_, err := e.mod.Open(as("tok7"), holder, exhibitsapi.KindExhibit, "nope")
	require.ErrorIs(t, err, exhibitsapi.ErrNotFound)
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.UpstreamErrors.WithLabelValues("not_found")))
}

func TestOpenAcquireDisabled(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	client, err := exhibitsapi.New(exhibitsapi.Options{BaseURL: fake.URL()}, zap.NewNop())
	require.NoError(t, err)
	v := viper.New()
	v.Set("acquire_locks", false)
	m := New(client, nil)
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{Config: v}))

	rec := testutil.NewRecord()
	fake.Put(rec)
	_, err = m.Open(context.Background(), holder, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	stored, _ := fake.Record(exhibitsapi.KindExhibit, rec.UUID)
	assert.False(t, bool(stored.IsLocked))
}

// racingAPI loses every lock attempt to user 5.
type racingAPI struct {
	gets int
}

func (r *racingAPI) Get(_ context.Context, kind exhibitsapi.Kind, id string) (*exhibitsapi.Record, error) {
	r.gets++
	rec := &exhibitsapi.Record{UUID: id, Kind: kind}
	if r.gets > 1 {
		rec.IsLocked = true
		rec.LockedByUserID = lock.NewUserID(5)
	}
	return rec, nil
}

func (r *racingAPI) Lock(context.Context, exhibitsapi.Kind, string) error {
	return exhibitsapi.ErrConflict
}

func (r *racingAPI) Unlock(context.Context, exhibitsapi.Kind, string) error { return nil }

func TestOpenLostLockRace(t *testing.T) {
	api := &racingAPI{}
	m := New(api, nil)
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{}))

	state, err := m.Open(context.Background(), admin, exhibitsapi.KindItem, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.gets)
	assert.Equal(t, lock.Decision{ShowAdminOverride: true}, state.Decision)
	assert.Contains(t, state.DisabledControls, "media_picker")
}

func TestRelease(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	released, err := e.mod.Release(as("tok9"), editor, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	assert.False(t, released, "non-holder must not release")
	stored, _ := e.fake.Record(exhibitsapi.KindExhibit, rec.UUID)
	assert.True(t, bool(stored.IsLocked))

	released, err = e.mod.Release(as("tok7"), holder, exhibitsapi.KindExhibit, rec.UUID)
	require.NoError(t, err)
	assert.True(t, released)
	stored, _ = e.fake.Record(exhibitsapi.KindExhibit, rec.UUID)
	assert.False(t, bool(stored.IsLocked))
	assert.Equal(t, []string{event.TopicRecordReleased}, topics(e.bus))
}

func TestForceUnlockRequiresOverride(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	err := e.mod.ForceUnlock(as("tok9"), editor, exhibitsapi.KindExhibit, rec.UUID)
	require.ErrorIs(t, err, ErrForbidden)

	// The holder sees the record as editable, so there is nothing to override.
	err = e.mod.ForceUnlock(as("tok7"), holder, exhibitsapi.KindExhibit, rec.UUID)
	require.ErrorIs(t, err, ErrForbidden)

	stored, _ := e.fake.Record(exhibitsapi.KindExhibit, rec.UUID)
	assert.True(t, bool(stored.IsLocked))
	assert.Empty(t, e.bus.Events())
}

func TestForceUnlockByAdmin(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.WithKind(exhibitsapi.KindHeading), testutil.LockedBy(7))
	e.fake.Put(rec)

	require.NoError(t, e.mod.ForceUnlock(as("tok9"), admin, exhibitsapi.KindHeading, rec.UUID))

	stored, _ := e.fake.Record(exhibitsapi.KindHeading, rec.UUID)
	assert.False(t, bool(stored.IsLocked))

	events := e.bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.TopicLockOverride, events[0].Topic)
	payload, ok := events[0].Payload.(RecordEvent)
	require.True(t, ok)
	assert.Equal(t, "7", payload.Holder)
	assert.Equal(t, "9", payload.ActorID)

	audit, err := e.mod.Audit(context.Background(), "", services.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, audit.Total)
	entry := audit.Items[0]
	assert.Equal(t, "heading", entry.Kind)
	assert.Equal(t, rec.UUID, entry.RecordID)
	assert.Equal(t, "9", entry.ActorID)
	assert.Equal(t, "7", entry.PreviousHolder)
	assert.Equal(t, "force_unlock", entry.Action)
}

func TestControls(t *testing.T) {
	tests := []struct {
		kind exhibitsapi.Kind
		want []string
	}{
		{exhibitsapi.KindExhibit, []string{"title", "description", "save", "delete", "publish", "unlock"}},
		{exhibitsapi.KindHeading, []string{"title", "description", "save", "delete", "publish", "unlock"}},
		{exhibitsapi.KindTimeline, []string{"title", "description", "save", "delete", "publish", "year", "unlock"}},
		{exhibitsapi.KindItem, []string{"title", "description", "save", "delete", "publish", "media_picker", "unlock"}},
		{exhibitsapi.KindMedia, []string{"title", "description", "save", "delete", "publish", "upload", "unlock"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Controls(tt.kind))
		})
	}
}

// --- HTTP ---

func serve(e *env, method, path string, actor *lock.Actor, token string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	for _, rt := range e.mod.Routes() {
		mux.HandleFunc(rt.Method+" "+rt.Path, rt.Handler)
	}
	req := httptest.NewRequest(method, path, nil)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), actor, token))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandleOpen(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	w := serve(e, "GET", "/exhibit/"+rec.UUID, admin, "tok9")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Decision         lock.Decision `json:"decision"`
		OverrideControls []string      `json:"override_controls"`
		Record           struct {
			UUID           string `json:"uuid"`
			LockedByUserID int64  `json:"locked_by_user_id"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Decision.ShowAdminOverride)
	assert.Equal(t, []string{"unlock"}, body.OverrideControls)
	assert.Equal(t, rec.UUID, body.Record.UUID)
	assert.Equal(t, int64(7), body.Record.LockedByUserID)
}

func TestHandleErrors(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	tests := []struct {
		name   string
		method string
		path   string
		actor  *lock.Actor
		want   int
	}{
		{"unknown kind", "GET", "/gallery/" + rec.UUID, holder, http.StatusBadRequest},
		{"missing record", "GET", "/exhibit/missing", holder, http.StatusNotFound},
		{"override refused", "POST", "/exhibit/" + rec.UUID + "/override", editor, http.StatusForbidden},
		{"bad audit limit", "GET", "/audit?limit=many", admin, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(e, tt.method, tt.path, tt.actor, "tok9")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestHandleUpstreamDown(t *testing.T) {
	e := newEnv(t)
	e.fake.FailNext(1)
	w := serve(e, "GET", "/exhibit/anything", holder, "tok7")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleOverrideAndAudit(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	w := serve(e, "POST", "/exhibit/"+rec.UUID+"/override", admin, "tok9")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = serve(e, "GET", "/audit?kind=exhibit&limit=10", admin, "tok9")
	require.Equal(t, http.StatusOK, w.Code)
	var result services.ListResult[services.AuditEntry]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Items, 1)
	assert.Equal(t, rec.UUID, result.Items[0].RecordID)
}

func TestHandleRelease(t *testing.T) {
	e := newEnv(t)
	rec := testutil.NewRecord(testutil.LockedBy(7))
	e.fake.Put(rec)

	w := serve(e, "POST", "/exhibit/"+rec.UUID+"/release", holder, "tok7")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"released":true}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, "healthy", e.mod.Health(context.Background()).Status)

	e.fake.FailNext(1)
	h := e.mod.Health(context.Background())
	assert.Equal(t, "unhealthy", h.Status)
	assert.NotEmpty(t, h.Details["error"])

	m := New(&racingAPI{}, nil)
	assert.Equal(t, "healthy", m.Health(context.Background()).Status)
}

func TestEventStream(t *testing.T) {
	fake := testutil.NewFakeAPI(t)
	fake.Token("tok9", 9)
	client, err := exhibitsapi.New(exhibitsapi.Options{BaseURL: fake.URL()}, zap.NewNop())
	require.NoError(t, err)
	m := New(client, nil)
	require.NoError(t, m.Init(context.Background(), plugin.Dependencies{
		Store: testutil.NewStore(t),
		Bus:   event.NewBus(zap.NewNop()),
	}))

	mux := http.NewServeMux()
	for _, rt := range m.Routes() {
		mux.HandleFunc(rt.Method+" "+rt.Path, rt.Handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	watched := testutil.NewRecord(testutil.LockedBy(7))
	other := testutil.NewRecord(testutil.LockedBy(7))
	fake.Put(watched)
	fake.Put(other)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?id=" + watched.UUID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.NoError(t, m.ForceUnlock(as("tok9"), admin, exhibitsapi.KindExhibit, other.UUID))
	require.NoError(t, m.ForceUnlock(as("tok9"), admin, exhibitsapi.KindExhibit, watched.UUID))

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, event.TopicLockOverride, msg.Topic)
	assert.Equal(t, watched.UUID, msg.Event.RecordID, "filtered stream must skip other records")
	assert.Equal(t, "7", msg.Event.Holder)
	assert.False(t, msg.Timestamp.IsZero())

	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHandleAuditCSV(t *testing.T) {
	e := newEnv(t)
	first := testutil.NewRecord(testutil.LockedBy(7))
	second := testutil.NewRecord(testutil.WithKind(exhibitsapi.KindMedia), testutil.LockedBy(8))
	e.fake.Put(first)
	e.fake.Put(second)
	require.NoError(t, e.mod.ForceUnlock(as("tok9"), admin, exhibitsapi.KindExhibit, first.UUID))
	require.NoError(t, e.mod.ForceUnlock(as("tok9"), admin, exhibitsapi.KindMedia, second.UUID))

	w := serve(e, "GET", "/audit.csv", admin, "tok9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, auditCSVHeaders(), rows[0])

	w = serve(e, "GET", "/audit.csv?kind=media", admin, "tok9")
	rows, err = csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.UUID, rows[1][3])
	assert.Equal(t, "8", rows[1][5])
}

func TestAuditRequiresAdministrator(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name  string
		path  string
		actor *lock.Actor
		token string
	}{
		{"json as editor", "/audit", editor, "tok9"},
		{"csv as editor", "/audit.csv", editor, "tok9"},
		{"json as lock holder", "/audit", holder, "tok7"},
		{"csv anonymous", "/audit.csv", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(e, "GET", tt.path, tt.actor, tt.token)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}

	w := serve(e, "GET", "/audit", admin, "tok9")
	assert.Equal(t, http.StatusOK, w.Code)
}
