package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/optionscan/engine/internal/engine"
)

// wsUpgrader is a thin rename of gorilla's Upgrader so the zero value isn't
// accidentally used uninitialized.
type wsUpgrader struct {
	websocket.Upgrader
}

func newWSUpgrader() wsUpgrader {
	return wsUpgrader{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Scan subscribers are expected to be browser/dashboard clients
			// on a different origin than the API host.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsPingInterval governs the server-initiated keepalive ping; clients that
// don't answer within wsPongWait are considered dead.
const (
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
	wsWriteWait    = 10 * time.Second
)

// clientMessage is the subset of client->server frames the bridge
// recognizes. Unknown types are ignored rather than rejected, so a client
// can send forward-compatible extensions without breaking the connection.
type clientMessage struct {
	Type string `json:"type"`
}

// serverMessage is the envelope every server->client frame uses.
type serverMessage struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type resultPayload struct {
	Action string        `json:"action"`
	Result interface{}   `json:"result"`
}

func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	scanID := mux.Vars(r)["scanId"]

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub, err := a.engine.Subscribe(scanID)
	if err != nil {
		_ = conn.WriteJSON(serverMessage{Type: "error", Timestamp: nowRFC3339(), Data: err.Error()})
		return
	}
	defer a.engine.Unsubscribe(scanID, sub.ID)

	a.trackWSConnect(1)
	defer a.trackWSConnect(-1)

	done := make(chan struct{})
	go a.readPump(conn, done)

	a.writePump(conn, sub, done)
}

// readPump drains client frames (pings, future subscribe/unsubscribe
// filtering) until the connection closes or a frame fails to parse as a
// client message, at which point it signals writePump via done so the
// subscriber is disconnected and torn down promptly.
func (a *API) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cm clientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			return
		}
		// ping/subscribe/unsubscribe control frames are accepted but the
		// bridge has nothing additional to do with them today: every
		// subscriber already receives the full event stream for its scan.
	}
}

func (a *API) writePump(conn *websocket.Conn, sub *engine.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			msg := toServerMessage(evt)
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			a.metrics.RecordWSEvent(string(evt.Type))
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toServerMessage(evt engine.Event) serverMessage {
	ts := nowRFC3339()
	switch evt.Type {
	case engine.EventStatus:
		return serverMessage{Type: "status", Timestamp: ts, Data: evt.Status}
	default:
		action := string(evt.Type)
		return serverMessage{Type: "result", Timestamp: ts, Data: resultPayload{Action: action, Result: evt.Result}}
	}
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}
