// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	applog "appmix/internal/log"
	"appmix/internal/types"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	broadcastBuffer = 256
	writeTimeout    = 2 * time.Second
)

// ErrNoController is reported to clients before routing is ready.
var ErrNoController = errors.New("routing not ready")

// Command types accepted from control clients.
const (
	CommandApply    = "apply"
	CommandClear    = "clear"
	CommandSessions = "sessions"
	CommandActive   = "active"
)

// Command is one control message from a client.
type Command struct {
	Type     string                     `json:"type" validate:"oneof=apply clear sessions active"`
	ID       string                     `json:"id,omitempty"`
	Session  types.ApplicationSession   `json:"session"`
	Sessions []types.ApplicationSession `json:"sessions,omitempty"`
	Profile  *types.AudioProfile        `json:"profile,omitempty" validate:"required_if=Type apply"`
}

// Reply answers a Command on the connection that sent it.
type Reply struct {
	Type  string   `json:"type"`
	ID    string   `json:"id,omitempty"`
	Error string   `json:"error,omitempty"`
	Apps  []string `json:"apps,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// WebSocketTransport is the control endpoint. Clients send Commands which
// are forwarded to the Controller, and every message passed to Send is
// broadcast to all connected clients.
type WebSocketTransport struct {
	ctrlMu    sync.RWMutex
	ctrl      Controller
	upgrader  websocket.Upgrader
	validate  *validator.Validate
	clients   map[*client]bool
	clientsMu sync.Mutex
	broadcast chan any
	done      chan struct{}
	closeOnce sync.Once
	server    *http.Server
	listener  net.Listener
	log       *logrus.Entry
}

// NewWebSocketTransport creates a transport forwarding commands to ctrl. It
// does not listen until Start is called; it can also be mounted as an
// http.Handler.
func NewWebSocketTransport(ctrl Controller) *WebSocketTransport {
	wst := &WebSocketTransport{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		clients:   make(map[*client]bool),
		broadcast: make(chan any, broadcastBuffer),
		done:      make(chan struct{}),
		log:       applog.Component("control"),
	}
	go wst.handleBroadcasts()
	return wst
}

// SetController replaces the command target. Commands received while no
// controller is set are answered with an error.
func (wst *WebSocketTransport) SetController(ctrl Controller) {
	wst.ctrlMu.Lock()
	defer wst.ctrlMu.Unlock()
	wst.ctrl = ctrl
}

func (wst *WebSocketTransport) controller() Controller {
	wst.ctrlMu.RLock()
	defer wst.ctrlMu.RUnlock()
	return wst.ctrl
}

// Start listens on addr and serves /ws in the background.
func (wst *WebSocketTransport) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", wst)

	wst.listener = ln
	wst.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.log.WithField("addr", ln.Addr().String()).Info("Control server listening")
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.WithError(err).Error("Control server stopped")
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (wst *WebSocketTransport) Addr() string {
	if wst.listener == nil {
		return ""
	}
	return wst.listener.Addr().String()
}

// ServeHTTP upgrades the connection and serves commands until it closes.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.WithError(err).Warn("Upgrade failed")
		return
	}

	c := &client{conn: conn}
	wst.clientsMu.Lock()
	wst.clients[c] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.WithField("clients", total).Info("Client connected")

	go wst.readLoop(c)
}

func (wst *WebSocketTransport) readLoop(c *client) {
	defer wst.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		reply := wst.handle(data)
		if err := c.writeJSON(reply); err != nil {
			wst.log.WithError(err).Debug("Reply not delivered")
			return
		}
	}
}

// handle decodes, validates and executes one command.
func (wst *WebSocketTransport) handle(data []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Reply{Type: "error", Error: fmt.Sprintf("decode command: %v", err)}
	}
	if err := wst.validate.Struct(cmd); err != nil {
		return Reply{Type: "error", ID: cmd.ID, Error: fmt.Sprintf("invalid command: %v", err)}
	}

	ctrl := wst.controller()
	if ctrl == nil {
		return Reply{Type: "error", ID: cmd.ID, Error: ErrNoController.Error()}
	}

	var err error
	reply := Reply{Type: "ack", ID: cmd.ID}
	switch cmd.Type {
	case CommandApply:
		err = ctrl.Apply(*cmd.Profile, cmd.Session)
	case CommandClear:
		err = ctrl.ClearRouting(cmd.Session)
	case CommandSessions:
		err = ctrl.SessionsChanged(cmd.Sessions)
	case CommandActive:
		reply.Type = "active"
		reply.Apps, err = ctrl.Active()
	}
	if err != nil {
		wst.log.WithError(err).WithField("command", cmd.Type).Debug("Command rejected")
		return Reply{Type: "error", ID: cmd.ID, Error: err.Error()}
	}
	return reply
}

func (wst *WebSocketTransport) drop(c *client) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[c]
	delete(wst.clients, c)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		c.conn.Close()
		wst.log.WithField("clients", total).Info("Client disconnected")
	}
}

// handleBroadcasts sends messages to all connected clients.
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case data := <-wst.broadcast:
			wst.clientsMu.Lock()
			clients := make([]*client, 0, len(wst.clients))
			for c := range wst.clients {
				clients = append(clients, c)
			}
			wst.clientsMu.Unlock()

			for _, c := range clients {
				if err := c.writeJSON(data); err != nil {
					wst.log.WithError(err).Warn("Error sending to client")
					wst.drop(c)
				}
			}
		case <-wst.done:
			return
		}
	}
}

// Send broadcasts data to all connected clients. Messages are dropped when
// the broadcast buffer is full.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return types.ErrClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		wst.log.Debug("Broadcast buffer full, dropping message")
	}
	return nil
}

// Close disconnects every client and shuts down the server.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.done)

		wst.clientsMu.Lock()
		for c := range wst.clients {
			c.conn.Close()
		}
		wst.clients = make(map[*client]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
		wst.log.Debug("Control server closed")
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
