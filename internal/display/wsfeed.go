package display

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/spectess/internal/photometer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientQueueLen = 256
)

// Event is a display update sent to feed clients as JSON
type Event struct {
	Type       string           `json:"type"`
	Role       string           `json:"role,omitempty"`
	Line       string           `json:"line,omitempty"`
	Done       int              `json:"done,omitempty"`
	Total      int              `json:"total,omitempty"`
	Wavelength int              `json:"wavelength,omitempty"`
	Filter     string           `json:"filter,omitempty"`
	Info       *photometer.Info `json:"info,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan Event
}

// WithFeedLogger sets the logger for the feed
func WithFeedLogger(logger *slog.Logger) func(f *Feed) {
	return func(f *Feed) {
		f.logger = logger
	}
}

// Feed broadcasts display updates to websocket clients. Slow clients miss
// events rather than blocking the calibration.
type Feed struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	progress map[photometer.Role]Progress
}

// NewFeed creates a feed with a discard logger
func NewFeed(options ...func(f *Feed)) *Feed {
	f := Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients:  make(map[*feedClient]struct{}),
		progress: make(map[photometer.Role]Progress),
	}
	for _, option := range options {
		option(&f)
	}
	return &f
}

// ServeHTTP upgrades the request to a websocket and streams events to it
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &feedClient{conn: conn, send: make(chan Event, clientQueueLen)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	f.logger.Debug("feed client connected", slog.String("remote", r.RemoteAddr))

	go f.writePump(c)
	go f.readPump(c)
}

// Clients returns the number of connected clients
func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and unregisters the client once the connection drops
func (f *Feed) readPump(c *feedClient) {
	defer f.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *Feed) broadcast(ev Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for c := range f.clients {
		select {
		case c.send <- ev:
		default: // client too slow, drop
		}
	}
}

func (f *Feed) AppendLog(role photometer.Role, line string) {
	f.broadcast(Event{Type: "log", Role: role.String(), Line: line})
}

func (f *Feed) ResetProgress(role photometer.Role, total int) {
	f.mu.Lock()
	f.progress[role] = Progress{Total: total}
	f.mu.Unlock()

	f.broadcast(Event{Type: "progress", Role: role.String(), Total: total})
}

func (f *Feed) AdvanceProgress(role photometer.Role, n int) {
	f.mu.Lock()
	p := f.progress[role]
	p.Done += n
	f.progress[role] = p
	f.mu.Unlock()

	f.broadcast(Event{Type: "progress", Role: role.String(), Done: p.Done, Total: p.Total})
}

func (f *Feed) SetWavelength(wavelength int, filter string) {
	f.broadcast(Event{Type: "wavelength", Wavelength: wavelength, Filter: filter})
}

func (f *Feed) EnableCapture(role photometer.Role) {
	f.broadcast(Event{Type: "capture", Role: role.String(), Line: "enabled"})
}

func (f *Feed) ResetSwitch(role photometer.Role) {
	f.broadcast(Event{Type: "capture", Role: role.String(), Line: "reset"})
}

func (f *Feed) ShowMetadata(role photometer.Role, info *photometer.Info) {
	f.broadcast(Event{Type: "metadata", Role: role.String(), Info: info})
}
