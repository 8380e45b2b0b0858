// Package plugin defines the contracts between exhibitdesk modules and the
// server that hosts them.
package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a module. Path is relative to
// /api/v1/{module}.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Dependencies are the shared services handed to every module at Init.
type Dependencies struct {
	Config *viper.Viper
	Logger *zap.Logger
	Store  Store
	Bus    EventBus
}

// Plugin defines the interface that all exhibitdesk modules must implement.
type Plugin interface {
	// Name returns the module's unique identifier (e.g., "browse", "editor").
	Name() string

	// Version returns the module's semantic version.
	Version() string

	// Init wires the module to its configuration and shared services.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins any background work.
	Start(ctx context.Context) error

	// Stop releases resources.
	Stop(ctx context.Context) error
}

// Migration is one versioned schema step owned by a module.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the persistence handle shared by modules.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, module string, migrations []Migration) error
}

// Event is a message published on the in-process bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any
}

// EventHandler receives published events.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe bus.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
