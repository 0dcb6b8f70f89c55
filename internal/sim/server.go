// Package sim implements an in-process simulated control host speaking the
// same wire protocol as a real instrument: a manager endpoint for discovery
// plus one endpoint per position for run control and statistics. Positions
// can be killed and restored at runtime to exercise reconnect behavior.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seqlab/seqmon/internal/model"
	"github.com/seqlab/seqmon/internal/rpc"
)

// DefaultStatsInterval is the cadence of simulated statistics updates.
const DefaultStatsInterval = 50 * time.Millisecond

// PositionSpec scripts one simulated position.
type PositionSpec struct {
	ID         string
	Name       string
	DeviceID   string
	DeviceName string
	Phase      model.RunPhase
	Simulated  bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStatsInterval sets the statistics emission cadence.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) {
		s.statsInterval = d
	}
}

// WithHostname sets the hostname reported by describe_host.
func WithHostname(name string) Option {
	return func(s *Server) {
		s.hostname = name
	}
}

// Server is one simulated control host.
type Server struct {
	logger        *slog.Logger
	statsInterval time.Duration
	hostname      string

	manager *endpoint

	mu        sync.Mutex
	positions map[string]*simPosition
	order     []string
}

// New creates a server with the given positions. Call Start to listen.
func New(specs []PositionSpec, opts ...Option) *Server {
	s := &Server{
		logger:        slog.Default(),
		statsInterval: DefaultStatsInterval,
		hostname:      "sim-host",
		positions:     make(map[string]*simPosition),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, spec := range specs {
		p := &simPosition{server: s, spec: spec, phase: spec.Phase}
		if p.phase != model.RunIdle && p.phase != model.RunStopped {
			p.runID = uuid.NewString()
		}
		p.lastTick = time.Now()
		s.positions[spec.ID] = p
		s.order = append(s.order, spec.ID)
	}
	return s
}

// Start binds the manager endpoint and one endpoint per position on loopback
// ports.
func (s *Server) Start() error {
	mgr, err := newEndpoint(http.HandlerFunc(s.handleManager))
	if err != nil {
		return fmt.Errorf("sim: manager listen: %w", err)
	}
	s.manager = mgr

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		p := s.positions[id]
		ep, err := newEndpoint(http.HandlerFunc(p.handle))
		if err != nil {
			return fmt.Errorf("sim: position %s listen: %w", id, err)
		}
		p.ep = ep
	}

	s.logger.Info("sim host listening", "endpoint", s.ManagerEndpoint(), "positions", len(s.positions))
	return nil
}

// ManagerEndpoint returns the manager endpoint URL.
func (s *Server) ManagerEndpoint() string {
	return fmt.Sprintf("ws://127.0.0.1:%d/rpc", s.manager.port)
}

// SetPhase scripts a run-state change on one position.
func (s *Server) SetPhase(positionID string, phase model.RunPhase) {
	s.mu.Lock()
	p, ok := s.positions[positionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	p.setPhase(phase)
}

// KillPosition drops a position's endpoint and all its connections, without
// close handshakes, as an unplugged instrument would.
func (s *Server) KillPosition(positionID string) {
	s.mu.Lock()
	p, ok := s.positions[positionID]
	s.mu.Unlock()
	if ok {
		p.ep.kill()
		s.logger.Info("sim position killed", "position", positionID)
	}
}

// RestorePosition rebinds a killed position's endpoint on its original port.
func (s *Server) RestorePosition(positionID string) error {
	s.mu.Lock()
	p, ok := s.positions[positionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim: unknown position %s", positionID)
	}
	if err := p.ep.restore(); err != nil {
		return err
	}
	s.logger.Info("sim position restored", "position", positionID)
	return nil
}

// KillManager drops the manager endpoint and its connections.
func (s *Server) KillManager() {
	s.manager.kill()
	s.logger.Info("sim manager killed")
}

// RestoreManager rebinds the manager endpoint on its original port.
func (s *Server) RestoreManager() error {
	if err := s.manager.restore(); err != nil {
		return err
	}
	s.logger.Info("sim manager restored")
	return nil
}

// RemovePosition deletes a position from subsequent discovery listings. Its
// endpoint keeps running until killed.
func (s *Server) RemovePosition(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, positionID)
	for i, id := range s.order {
		if id == positionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Close shuts the whole host down.
func (s *Server) Close() {
	if s.manager != nil {
		s.manager.kill()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.ep != nil {
			p.ep.kill()
		}
	}
}

type positionRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	State      string `json:"state"`
	Port       int    `json:"port"`
	Simulated  bool   `json:"simulated"`
}

// handleManager serves the manager endpoint: discovery operations only.
func (s *Server) handleManager(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.accept(w, r)
	if err != nil {
		return
	}
	defer c.shutdown()

	for {
		var req rpc.Request
		if err := c.ws.ReadJSON(&req); err != nil {
			return
		}

		switch req.Op {
		case "describe_host":
			c.writeResult(req.ID, map[string]string{
				"hostname": s.hostname,
				"version":  "1.0.0-sim",
			})
		case "list_positions":
			s.mu.Lock()
			records := make([]positionRecord, 0, len(s.order))
			for _, id := range s.order {
				p := s.positions[id]
				records = append(records, positionRecord{
					ID:         p.spec.ID,
					Name:       p.spec.Name,
					DeviceID:   p.spec.DeviceID,
					DeviceName: p.spec.DeviceName,
					State:      string(p.lifecycleState()),
					Port:       p.ep.port,
					Simulated:  p.spec.Simulated,
				})
			}
			s.mu.Unlock()
			c.writeResult(req.ID, map[string]interface{}{"positions": records})
		default:
			c.writeError(req.ID, rpc.CodeBadRequest, "unknown operation "+req.Op)
		}
	}
}

// endpoint is one listener plus its live WebSocket connections.
type endpoint struct {
	port    int
	handler http.Handler

	mu    sync.Mutex
	ln    net.Listener
	srv   *http.Server
	conns map[*conn]struct{}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newEndpoint(handler http.Handler) (*endpoint, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	e := &endpoint{
		port:    ln.Addr().(*net.TCPAddr).Port,
		handler: handler,
		ln:      ln,
		conns:   make(map[*conn]struct{}),
	}
	e.serve()
	return e, nil
}

func (e *endpoint) serve() {
	srv := &http.Server{Handler: e.handler}
	e.srv = srv
	go srv.Serve(e.ln)
}

// accept upgrades one request and tracks the connection for kill.
func (e *endpoint) accept(w http.ResponseWriter, r *http.Request) (*conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, ctx: ctx, cancel: cancel, ep: e}

	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	return c, nil
}

// kill closes the listener and severs every live connection abruptly.
func (e *endpoint) kill() {
	e.mu.Lock()
	srv := e.srv
	conns := e.conns
	e.conns = make(map[*conn]struct{})
	e.srv = nil
	e.mu.Unlock()

	if srv != nil {
		srv.Close()
	}
	for c := range conns {
		c.cancel()
		c.ws.Close()
	}
}

// restore rebinds the original port after a kill.
func (e *endpoint) restore() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", e.port))
	if err != nil {
		return err
	}
	e.ln = ln
	srv := &http.Server{Handler: e.handler}
	e.srv = srv
	go srv.Serve(ln)
	return nil
}

func (e *endpoint) drop(c *conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
}

// conn is one server-side connection with serialized writes.
type conn struct {
	ws      *websocket.Conn
	ep      *endpoint
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	sidMu   sync.Mutex
	nextSID int64
}

func (c *conn) shutdown() {
	c.cancel()
	c.ep.drop(c)
	c.ws.Close()
}

func (c *conn) newSID() int64 {
	c.sidMu.Lock()
	defer c.sidMu.Unlock()
	c.nextSID++
	return c.nextSID
}

func (c *conn) write(frame map[string]interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteJSON(frame)
}

func (c *conn) writeResult(id int64, msg interface{}) {
	payload, _ := json.Marshal(msg)
	c.write(map[string]interface{}{"id": id, "type": "result", "msg": json.RawMessage(payload)})
}

func (c *conn) writeError(id int64, code, message string) {
	payload, _ := json.Marshal(rpc.ErrorBody{Code: code, Message: message})
	c.write(map[string]interface{}{"id": id, "type": "error", "msg": json.RawMessage(payload)})
}

func (c *conn) writeSubscribed(id, sid int64) {
	payload, _ := json.Marshal(rpc.SubscribedBody{SID: sid})
	c.write(map[string]interface{}{"id": id, "type": "subscribed", "msg": json.RawMessage(payload)})
}

func (c *conn) writeUpdate(sid int64, msg interface{}) {
	payload, _ := json.Marshal(msg)
	c.write(map[string]interface{}{"type": "update", "sid": sid, "msg": json.RawMessage(payload)})
}
