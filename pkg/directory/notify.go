package directory

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/scufflelive/corevideo/pkg/logger"
)

// ChangeEvent is published whenever a room's owning node changes (a node
// joined, left, or the ring otherwise reshuffled ownership).
type ChangeEvent struct {
	Room     string `json:"room"`
	OldOwner string `json:"old_owner,omitempty"`
	NewOwner string `json:"new_owner"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Notifier fans ownership ChangeEvents out to every connected edge server
// over a websocket, so an edge server holding a blocked read for a room
// that just migrated can redirect instead of timing out.
type Notifier struct {
	log logger.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan ChangeEvent
}

// NewNotifier builds an empty Notifier.
func NewNotifier(log logger.Logger) *Notifier {
	return &Notifier{log: log, subs: make(map[*subscriber]struct{})}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until it disconnects.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn("directory notifier upgrade failed", logger.NewField("error", err.Error()))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan ChangeEvent, 32)}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.subs, sub)
		n.mu.Unlock()
		conn.Close()
	}()

	go n.readPump(sub)
	n.writePump(sub)
}

// readPump discards inbound frames (the protocol is server-push only) but
// must still read so the connection's close/ping control frames are
// processed and a dead peer is detected.
func (n *Notifier) readPump(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (n *Notifier) writePump(sub *subscriber) {
	for ev := range sub.send {
		if err := sub.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Publish fans ev out to every connected subscriber. When a subscriber's
// send buffer is full, ev is dropped for that subscriber (with a logged
// warning) rather than blocking the publisher; the subscriber stays
// connected and is never sent that event.
func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		select {
		case sub.send <- ev:
		default:
			n.log.Warn("dropping directory change event for slow subscriber", logger.NewField("room", ev.Room))
		}
	}
}

// SubscriberCount returns the number of connected subscribers, for
// diagnostics endpoints.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
