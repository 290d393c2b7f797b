// Package monitor streams live simulator state to operator dashboards over
// WebSocket: lifecycle events as they happen plus periodic transport
// statistics snapshots.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"verdantia/simulator/internal/events"
	"verdantia/simulator/internal/lludp"
	"verdantia/simulator/internal/logging"
)

// DefaultStatsInterval is the cadence of statistics pushes to dashboards.
const DefaultStatsInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is the wire envelope sent to dashboards.
type message struct {
	Type    string             `json:"type"`
	Event   *events.Envelope   `json:"event,omitempty"`
	Running bool               `json:"running,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Gateway fans simulator events and statistics out to WebSocket observers.
type Gateway struct {
	log      *logging.Logger
	health   func() lludp.HealthReport
	stream   *events.Stream
	interval time.Duration

	mu      sync.Mutex
	clients map[*client]bool

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option adjusts gateway construction.
type Option func(*Gateway)

// WithStatsInterval overrides the statistics push cadence.
func WithStatsInterval(interval time.Duration) Option {
	return func(g *Gateway) {
		if interval > 0 {
			g.interval = interval
		}
	}
}

// NewGateway wires the gateway to the event stream and health source.
func NewGateway(log *logging.Logger, stream *events.Stream, health func() lludp.HealthReport, opts ...Option) *Gateway {
	if log == nil {
		log = logging.L()
	}
	g := &Gateway{
		log:      log,
		health:   health,
		stream:   stream,
		interval: DefaultStatsInterval,
		clients:  make(map[*client]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins forwarding events and statistics. Safe to call once.
func (g *Gateway) Start() error {
	if !g.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})

	sub, err := g.stream.Subscribe(ctx, "monitor-gateway", 64)
	if err != nil {
		cancel()
		g.started.Store(false)
		return err
	}

	g.wg.Add(2)
	go g.runEvents(sub)
	go g.runStats()
	return nil
}

// Stop detaches from the stream and disconnects every dashboard.
func (g *Gateway) Stop() {
	if !g.started.CompareAndSwap(true, false) {
		return
	}
	g.cancel()
	close(g.done)
	g.wg.Wait()

	g.mu.Lock()
	for c := range g.clients {
		close(c.send)
		delete(g.clients, c)
	}
	g.mu.Unlock()
}

func (g *Gateway) runEvents(sub *events.Subscription) {
	defer g.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-g.done:
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			g.broadcast(message{Type: "event", Event: env})
			if err := sub.Ack(env.Sequence); err != nil {
				g.log.Debug("event ack failed", logging.Error(err))
			}
		}
	}
}

func (g *Gateway) runStats() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			if g.health == nil {
				continue
			}
			report := g.health()
			g.broadcast(message{Type: "stats", Running: report.Running, Metrics: report.Metrics})
		}
	}
}

// broadcast delivers the payload to every connected dashboard. Clients that
// cannot drain their buffer are disconnected rather than blocking the rest.
func (g *Gateway) broadcast(msg message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		g.log.Error("monitor payload encode failed", logging.Error(err))
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(g.clients, c)
			g.log.Warn("monitor client dropped: send buffer full")
		}
	}
}

// ClientCount reports how many dashboards are connected.
func (g *Gateway) ClientCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Handler upgrades dashboard connections and runs their pumps.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("monitor upgrade failed", logging.Error(err))
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 256)}
		g.mu.Lock()
		g.clients[c] = true
		g.mu.Unlock()
		g.log.Info("monitor client connected", logging.String("remote_addr", r.RemoteAddr))

		//1.- The reader only watches for disconnects; dashboards are
		//    receive-only.
		go func() {
			defer func() {
				g.mu.Lock()
				if _, ok := g.clients[c]; ok {
					close(c.send)
					delete(g.clients, c)
				}
				g.mu.Unlock()
				_ = c.conn.Close()
			}()
			for {
				if _, _, err := c.conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		//2.- The writer drains the send buffer and keeps the link alive.
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer func() {
				ticker.Stop()
				_ = c.conn.Close()
			}()
			for {
				select {
				case payload, ok := <-c.send:
					if !ok {
						_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
						return
					}
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				case <-ticker.C:
					if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
						return
					}
				}
			}
		}()
	}
}
