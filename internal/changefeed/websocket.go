package changefeed

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWebSocket streams events as JSON text frames (GET /api/ws?client=<id>).
// Inbound frames are ignored; the read loop only detects disconnects.
func (b *Broker) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("changefeed: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch := b.Subscribe(r.URL.Query().Get(ClientIDParam))
	defer b.Unsubscribe(ch)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
