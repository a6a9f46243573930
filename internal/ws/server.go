package ws

import (
	"net/http"
	"sync"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Broadcaster fans status-change events out to connected observers. It owns
// an explicit connection registry with scoped add/remove on
// connect/disconnect; nothing about the connection set is ambient state.
type Broadcaster struct {
	server *socketio.Server
	db     *gorm.DB
	logger *logrus.Entry

	mu    sync.Mutex
	conns map[string]socketio.Conn
}

// NewBroadcaster initializes the Socket.IO server and starts its serve loop.
func NewBroadcaster(db *gorm.DB, logger *logrus.Entry) (*Broadcaster, error) {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
		},
	})

	b := &Broadcaster{
		server: server,
		db:     db,
		logger: logger.WithField("component", "broadcaster"),
		conns:  make(map[string]socketio.Conn),
	}

	server.OnConnect("/", func(s socketio.Conn) error {
		b.add(s)
		s.Emit("connected", map[string]interface{}{"ok": true})
		return nil
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		b.remove(s)
		b.logger.WithField("conn", s.ID()).Debugf("client disconnected: %s", reason)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		if s != nil {
			b.remove(s)
		}
		b.logger.Warnf("connection error: %v", e)
	})

	server.OnEvent("/", "request:events", b.handleRequestEvents)

	go func() {
		if err := server.Serve(); err != nil {
			b.logger.Errorf("socket.io server stopped: %v", err)
		}
	}()

	return b, nil
}

func (b *Broadcaster) add(s socketio.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[s.ID()] = s
	b.logger.WithField("conn", s.ID()).Debugf("client connected (%d total)", len(b.conns))
}

func (b *Broadcaster) remove(s socketio.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, s.ID())
}

// ConnCount returns the number of registered observer connections.
func (b *Broadcaster) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close shuts the Socket.IO server down.
func (b *Broadcaster) Close() error {
	return b.server.Close()
}

func (b *Broadcaster) broadcast(event string, data interface{}) {
	b.server.BroadcastToNamespace("/", event, data)
}
