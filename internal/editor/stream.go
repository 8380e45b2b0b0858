package editor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

const (
	streamBuffer       = 32
	streamWriteTimeout = 5 * time.Second
)

// StreamMessage is one editor event pushed to a websocket subscriber.
type StreamMessage struct {
	Topic     string      `json:"topic"`
	Timestamp time.Time   `json:"timestamp"`
	Event     RecordEvent `json:"event"`
}

// handleEvents streams editor events over a websocket so an open form can
// react when its lock is released or overridden. The optional kind and id
// query parameters narrow the stream to one record.
//
//	@Summary		Editor event stream
//	@Tags			editor
//	@Security		BearerAuth
//	@Param			kind	query	string	false	"Only events for this kind"
//	@Param			id		query	string	false	"Only events for this record"
//	@Router			/editor/events [get]
func (m *Module) handleEvents(w http.ResponseWriter, r *http.Request) {
	if m.bus == nil {
		editorWriteError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	kind, id := r.URL.Query().Get("kind"), r.URL.Query().Get("id")

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	events := make(chan StreamMessage, streamBuffer)
	unsubscribe := m.bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		if !strings.HasPrefix(e.Topic, "editor.") {
			return
		}
		ev, ok := e.Payload.(RecordEvent)
		if !ok || (kind != "" && string(ev.Kind) != kind) || (id != "" && ev.RecordID != id) {
			return
		}
		select {
		case events <- StreamMessage{Topic: e.Topic, Timestamp: e.Timestamp, Event: ev}:
		default:
			m.logger.Warn("dropping editor event for slow subscriber", zap.String("topic", e.Topic))
		}
	})
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-events:
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				m.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
