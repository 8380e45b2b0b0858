// Package editor is the record-edit controller. It fetches a record, asks
// the lock arbitrator whether the current user may edit it, and turns the
// decision into the set of form controls the browser must disable.
package editor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/event"
	"github.com/HerbHall/exhibitdesk/internal/exhibitsapi"
	"github.com/HerbHall/exhibitdesk/internal/metrics"
	"github.com/HerbHall/exhibitdesk/internal/services"
	"github.com/HerbHall/exhibitdesk/pkg/lock"
	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// ErrForbidden is returned when an override is requested by an actor the
// arbitrator does not offer one to.
var ErrForbidden = errors.New("lock override not permitted")

// API is the slice of the exhibits API the editor needs.
type API interface {
	Get(ctx context.Context, kind exhibitsapi.Kind, id string) (*exhibitsapi.Record, error)
	Lock(ctx context.Context, kind exhibitsapi.Kind, id string) error
	Unlock(ctx context.Context, kind exhibitsapi.Kind, id string) error
}

// FormState tells the browser how to render the edit form.
type FormState struct {
	Kind             exhibitsapi.Kind    `json:"kind"`
	Record           *exhibitsapi.Record `json:"record"`
	Decision         lock.Decision       `json:"decision"`
	DisabledControls []string            `json:"disabled_controls"`
	OverrideControls []string            `json:"override_controls"`
}

// RecordEvent is the payload of editor events.
type RecordEvent struct {
	Kind     exhibitsapi.Kind `json:"kind"`
	RecordID string           `json:"record_id"`
	ActorID  string           `json:"actor_id"`
	Outcome  string           `json:"outcome,omitempty"`
	Holder   string           `json:"holder,omitempty"`
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module implements the editor module.
type Module struct {
	api     API
	metrics *metrics.Metrics
	logger  *zap.Logger
	bus     plugin.EventBus
	audit   services.AuditRepository
	acquire bool
}

// New creates an editor module backed by api.
func New(api API, m *metrics.Metrics) *Module {
	return &Module{api: api, metrics: m, acquire: true}
}

func (m *Module) Name() string    { return "editor" }
func (m *Module) Version() string { return "0.1.0" }

// Init wires the audit log and event bus. Setting acquire_locks to false
// leaves lock acquisition to the browser.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.bus = deps.Bus
	if deps.Config != nil && deps.Config.IsSet("acquire_locks") {
		m.acquire = deps.Config.GetBool("acquire_locks")
	}
	if deps.Store != nil {
		repo, err := services.NewSQLiteAuditRepository(ctx, deps.Store)
		if err != nil {
			return err
		}
		m.audit = repo
	}
	m.logger.Info("editor module initialized", zap.Bool("acquire_locks", m.acquire))
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }
func (m *Module) Stop(_ context.Context) error  { return nil }

// Health reports whether the exhibits API is reachable. Any HTTP answer
// counts; only transport failures and 5xx responses mark it unhealthy.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	pinger, ok := m.api.(interface{ Ping(context.Context) error })
	if !ok {
		return plugin.HealthStatus{Status: "healthy"}
	}
	if err := pinger.Ping(ctx); errors.Is(err, exhibitsapi.ErrUnavailable) {
		return plugin.HealthStatus{
			Status:  "unhealthy",
			Message: "exhibits API unreachable",
			Details: map[string]string{"error": err.Error()},
		}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Open loads a record for editing. When the record is free and the actor
// is identifiable, Open takes the lock on the actor's behalf.
func (m *Module) Open(ctx context.Context, actor *lock.Actor, kind exhibitsapi.Kind, id string) (*FormState, error) {
	rec, err := m.fetch(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if m.acquire && !bool(rec.IsLocked) && actor != nil && actor.UserID.Valid() {
		rec, err = m.acquireLock(ctx, actor, kind, id, rec)
		if err != nil {
			return nil, err
		}
	}

	decision := lock.Evaluate(rec.Record, actor)
	m.metrics.ObserveLock(decision.Outcome())
	m.publish(ctx, event.TopicRecordOpened, RecordEvent{
		Kind:     kind,
		RecordID: id,
		ActorID:  actorID(actor),
		Outcome:  decision.Outcome(),
		Holder:   rec.LockedByUserID.String(),
	})

	return buildFormState(kind, rec, decision), nil
}

// acquireLock locks rec for actor. Losing a race to another editor is not
// an error: the record is re-read so the arbitrator sees the new holder.
func (m *Module) acquireLock(ctx context.Context, actor *lock.Actor, kind exhibitsapi.Kind, id string, rec *exhibitsapi.Record) (*exhibitsapi.Record, error) {
	err := m.api.Lock(ctx, kind, id)
	switch {
	case err == nil:
		rec.IsLocked = true
		rec.LockedByUserID = actor.UserID
		return rec, nil
	case errors.Is(err, exhibitsapi.ErrConflict):
		m.logger.Debug("lost lock race", zap.String("kind", string(kind)), zap.String("id", id))
		return m.fetch(ctx, kind, id)
	default:
		m.metrics.ObserveUpstream(exhibitsapi.Classify(err))
		return nil, err
	}
}

// Release unlocks the record when actor holds it, as happens when the user
// navigates away from the form. It reports whether a lock was released.
func (m *Module) Release(ctx context.Context, actor *lock.Actor, kind exhibitsapi.Kind, id string) (bool, error) {
	rec, err := m.fetch(ctx, kind, id)
	if err != nil {
		return false, err
	}
	if !lock.HeldBy(rec.Record, actor) {
		return false, nil
	}
	if err := m.api.Unlock(ctx, kind, id); err != nil {
		m.metrics.ObserveUpstream(exhibitsapi.Classify(err))
		return false, err
	}
	m.publish(ctx, event.TopicRecordReleased, RecordEvent{Kind: kind, RecordID: id, ActorID: actorID(actor)})
	return true, nil
}

// ForceUnlock breaks another user's lock. Only actors offered the admin
// override by the arbitrator may do so; the override is audited.
func (m *Module) ForceUnlock(ctx context.Context, actor *lock.Actor, kind exhibitsapi.Kind, id string) error {
	rec, err := m.fetch(ctx, kind, id)
	if err != nil {
		return err
	}
	decision := lock.Evaluate(rec.Record, actor)
	if !decision.ShowAdminOverride {
		m.logger.Warn("lock override refused",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.String("actor", actorID(actor)),
			zap.String("outcome", decision.Outcome()),
		)
		return ErrForbidden
	}

	if err := m.api.Unlock(ctx, kind, id); err != nil {
		m.metrics.ObserveUpstream(exhibitsapi.Classify(err))
		return err
	}

	ev := RecordEvent{
		Kind:     kind,
		RecordID: id,
		ActorID:  actorID(actor),
		Holder:   rec.LockedByUserID.String(),
	}
	if m.audit != nil {
		entry := &services.AuditEntry{
			Kind:           string(kind),
			RecordID:       id,
			ActorID:        ev.ActorID,
			PreviousHolder: ev.Holder,
			Action:         "force_unlock",
		}
		if err := m.audit.Record(ctx, entry); err != nil {
			// The unlock already happened upstream; losing the audit row is
			// logged rather than surfaced.
			m.logger.Error("failed to record lock override", zap.Error(err))
		}
	}
	m.logger.Info("lock overridden",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("actor", ev.ActorID),
		zap.String("previous_holder", ev.Holder),
	)
	m.publish(ctx, event.TopicLockOverride, ev)
	return nil
}

// Audit lists recorded overrides.
func (m *Module) Audit(ctx context.Context, kind string, opts services.ListOptions) (*services.ListResult[services.AuditEntry], error) {
	if m.audit == nil {
		return &services.ListResult[services.AuditEntry]{Items: []services.AuditEntry{}}, nil
	}
	return m.audit.List(ctx, kind, opts)
}

func (m *Module) fetch(ctx context.Context, kind exhibitsapi.Kind, id string) (*exhibitsapi.Record, error) {
	rec, err := m.api.Get(ctx, kind, id)
	if err != nil {
		m.metrics.ObserveUpstream(exhibitsapi.Classify(err))
		return nil, fmt.Errorf("load record: %w", err)
	}
	return rec, nil
}

func (m *Module) publish(ctx context.Context, topic string, payload RecordEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{Topic: topic, Source: m.Name(), Payload: payload}); err != nil {
		m.logger.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// buildFormState applies the decision to the kind's controls: nothing is
// disabled for an editable record; otherwise everything is, except the
// override control when the arbitrator offers it.
func buildFormState(kind exhibitsapi.Kind, rec *exhibitsapi.Record, d lock.Decision) *FormState {
	fs := &FormState{
		Kind:             kind,
		Record:           rec,
		Decision:         d,
		DisabledControls: []string{},
		OverrideControls: []string{},
	}
	if d.Editable {
		return fs
	}
	for _, c := range Controls(kind) {
		if c == OverrideControl && d.ShowAdminOverride {
			fs.OverrideControls = append(fs.OverrideControls, c)
			continue
		}
		fs.DisabledControls = append(fs.DisabledControls, c)
	}
	return fs
}

func actorID(a *lock.Actor) string {
	if a == nil {
		return ""
	}
	return a.UserID.String()
}
