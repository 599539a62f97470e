package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"lifeline.org/internal/realtime"
	"lifeline.org/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsMaxFrame   = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || isLocalOrigin(o)
	},
}

// clientFrame is what browsers send over the socket.
type clientFrame struct {
	Event    string `json:"event"`
	RoomID   string `json:"room_id"`
	Text     string `json:"text"`
	IsTyping bool   `json:"is_typing"`
}

// handleWebSocket upgrades the connection and bridges it to the
// coordinator: a read loop for client frames and a write loop pumping
// room events plus session invalidations.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	sessionID, _ := session.IDFromContext(r.Context())

	user, err := a.store.Users().Find(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := a.coord.Connect(user.ID, user.IsDonor)
	defer func() {
		conn.Close()
		_ = ws.Close()
	}()

	invalidations := a.sessions.Registry().Watch(r.Context(), sessionID)

	done := make(chan struct{})
	go a.wsWriteLoop(ws, conn, invalidations, done)

	ws.SetReadLimit(wsMaxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			close(done)
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		a.dispatchFrame(r, conn, frame)
	}
}

func (a *API) dispatchFrame(r *http.Request, conn *realtime.Conn, frame clientFrame) {
	switch frame.Event {
	case "join-room":
		if frame.RoomID == "" {
			return
		}
		history, err := a.coord.Join(r.Context(), frame.RoomID, conn)
		if err != nil {
			return
		}
		// replay on the joiner's own channel so delivery order is
		// preserved relative to live fan-out
		for _, m := range history {
			conn.Replay(realtime.Event{
				Type:   realtime.EventReceiveMessage,
				RoomID: frame.RoomID,
				Data:   m,
			})
		}
	case "leave-room":
		if frame.RoomID != "" {
			a.coord.Leave(frame.RoomID, conn)
		}
	case "send-message":
		if frame.RoomID == "" || frame.Text == "" {
			return
		}
		_, _ = a.coord.SendMessage(r.Context(), frame.RoomID, conn, frame.Text)
	case "typing":
		if frame.RoomID != "" {
			a.coord.Typing(frame.RoomID, conn, frame.IsTyping)
		}
	}
}

func (a *API) wsWriteLoop(ws *websocket.Conn, conn *realtime.Conn,
	invalidations <-chan session.Invalidation, done <-chan struct{}) {

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-conn.Events():
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(evt); err != nil {
				return
			}
		case inv, ok := <-invalidations:
			if !ok {
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = ws.WriteJSON(realtime.Event{
				Type: "session-invalidated",
				Data: map[string]any{"reason": inv.Reason},
			})
			_ = ws.Close()
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
