package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport wraps a gorilla connection. Writes are serialized with a
// mutex; gorilla connections support one concurrent writer.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.mu.Unlock()
	return t.conn.Close()
}

// DialWebSocket is the production Dialer. The read loop runs in its own
// goroutine and delivers lifecycle events on the returned channel, which is
// closed once the connection is gone.
func DialWebSocket(ctx context.Context, url string) (Transport, <-chan Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan Event, 32)
	go readLoop(conn, events)
	return &wsTransport{conn: conn}, events, nil
}

func readLoop(conn *websocket.Conn, events chan<- Event) {
	defer close(events)

	events <- Event{Kind: EventOpened}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				events <- Event{Kind: EventClosed, Code: closeErr.Code, Reason: closeErr.Text}
				return
			}
			// A torn connection surfaces as an error followed by an
			// abnormal close, matching WebSocket client semantics.
			events <- Event{Kind: EventFailed, Err: err}
			events <- Event{Kind: EventClosed, Code: abnormalCloseCode}
			return
		}
		events <- Event{Kind: EventFrame, Data: data}
	}
}
