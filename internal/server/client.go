package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
)

const sendQueueSize = 64

var errConnClosed = errors.New("connection closed")

// client is one player connection. It owns at most one gatekeeper session,
// registered in the engine under the client id.
type client struct {
	srv  *Server
	conn *websocket.Conn
	id   string

	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	inbox          *frameInbox
	cameraReply    chan error
	awaitingCamera atomic.Bool

	mu sync.Mutex
	gk *gatekeeper.Gatekeeper
}

// StatusPayload accompanies every STATUS message.
type StatusPayload struct {
	Event  gatekeeper.EventKind `json:"event"`
	Status gatekeeper.Status    `json:"status"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		srv:         s,
		conn:        conn,
		id:          uuid.NewString(),
		out:         make(chan Message, sendQueueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		inbox:       newFrameInbox(),
		cameraReply: make(chan error, 1),
	}

	s.register(c)
	log.Printf("WebSocket client connected: %s", c.id)

	defer func() {
		c.close()
		s.deps.Engine.Unregister(c.id)
		s.unregister(c)
		log.Printf("WebSocket client disconnected: %s", c.id)
	}()

	go c.writePump()

	if err := c.send(MsgWelcome, WelcomePayload{ClientID: c.id, Version: protocolVersion}); err != nil {
		return
	}
	c.readPump()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.conn.Close()
	})
}

// send queues a message without blocking. It is called from gatekeeper
// callbacks that hold the session lock.
func (c *client) send(typ string, payload interface{}) error {
	msg, err := newMessage(typ, c.id, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		c.srv.deps.Metrics.WebSocketError()
		return fmt.Errorf("send queue full, dropping %s", typ)
	}
}

func (c *client) sendError(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if err := c.send(MsgError, ErrorPayload{Message: message}); err != nil && !errors.Is(err, errConnClosed) {
		log.Printf("Client %s: %v", c.id, err)
	}
}

func (c *client) readPump() {
	pongWait := 2 * c.srv.cfg.PingInterval
	c.conn.SetReadLimit(c.srv.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.deps.Metrics.WebSocketError()
				log.Printf("WebSocket error for %s: %v", c.id, err)
			}
			return
		}
		c.srv.deps.Metrics.WebSocketMessage()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.srv.deps.Metrics.WebSocketError()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) handle(msg Message) {
	if c.srv.cfg.Debug && msg.Type != MsgFrame {
		log.Printf("DEBUG: received from %s: %s", c.id, msg.Type)
	}

	switch msg.Type {
	case MsgPing:
		c.send(MsgPong, nil)

	case MsgHello:
		c.hello(msg.Payload)

	case MsgEnableCamera:
		g := c.session()
		if g == nil {
			return
		}
		go func() {
			if err := g.EnableCamera(c.ctx); err != nil && c.srv.cfg.Debug {
				log.Printf("DEBUG: client %s: enable camera: %v", c.id, err)
			}
		}()

	case MsgCameraReady:
		if c.awaitingCamera.Load() {
			c.reply(nil)
		}

	case MsgCameraError:
		var p CameraErrorPayload
		json.Unmarshal(msg.Payload, &p)
		if p.Message == "" {
			p.Message = "camera unavailable"
		}
		if c.awaitingCamera.Load() {
			c.reply(errors.New(p.Message))
			return
		}
		// the camera failed after it was granted
		if g := c.current(); g != nil {
			g.DisableCamera(p.Message)
		}

	case MsgFrame:
		var f detector.Frame
		if err := json.Unmarshal(msg.Payload, &f); err != nil {
			c.sendError("invalid frame: %v", err)
			return
		}
		f.CapturedAt = time.Now()
		accepted, replaced := c.inbox.Put(f)
		if c.srv.cfg.Debug && (!accepted || replaced) {
			log.Printf("DEBUG: client %s: frame %d accepted=%t replaced=%t", c.id, f.Sequence, accepted, replaced)
		}

	case MsgPlay:
		g := c.session()
		if g == nil {
			return
		}
		if err := g.RequestPlay(); err != nil && c.srv.cfg.Debug {
			log.Printf("DEBUG: client %s: play intercepted: %v", c.id, err)
		}

	default:
		log.Printf("Unknown message type from %s: %s", c.id, msg.Type)
		c.sendError("unknown message type %q", msg.Type)
	}
}

func (c *client) reply(err error) {
	select {
	case c.cameraReply <- err:
	default:
	}
}

func (c *client) hello(payload json.RawMessage) {
	var p HelloPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.VideoID == "" {
		c.sendError("HELLO requires a video_id")
		return
	}

	c.mu.Lock()
	if c.gk != nil {
		current := c.gk.VideoID()
		c.mu.Unlock()
		c.sendError("session already started for video %s", current)
		return
	}
	srv := c.srv
	g, err := gatekeeper.New(p.VideoID, srv.deps.Gatekeeper, gatekeeper.Deps{
		Analyzer: analyzer.New(srv.deps.Analyzer),
		Detector: srv.deps.Detector,
		Blocks:   srv.deps.Engine.Blocks(),
		Video:    remoteVideo{c: c},
		Camera:   remoteCamera{c: c},
		Metrics:  srv.deps.Metrics,
		Listener: srv.deps.Engine.Listener(c.id, c.onEvent),
	})
	if err != nil {
		c.mu.Unlock()
		c.sendError("failed to start session: %v", err)
		return
	}
	c.gk = g
	c.mu.Unlock()

	if err := srv.deps.Engine.Register(c.id, g); err != nil {
		c.sendError("failed to start session: %v", err)
		return
	}
	if err := g.Mount(c.ctx); err != nil {
		c.sendError("failed to start session: %v", err)
	}
}

func (c *client) onEvent(ev gatekeeper.Event) {
	if err := c.send(MsgStatus, StatusPayload{Event: ev.Kind, Status: ev.Status}); err != nil && !errors.Is(err, errConnClosed) {
		log.Printf("Client %s: %v", c.id, err)
	}
}

func (c *client) current() *gatekeeper.Gatekeeper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gk
}

// session returns the gatekeeper or reports that HELLO is missing.
func (c *client) session() *gatekeeper.Gatekeeper {
	g := c.current()
	if g == nil {
		c.sendError("no session, send HELLO first")
	}
	return g
}
