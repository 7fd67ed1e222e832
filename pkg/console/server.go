// Package console serves a Moonraker-style remote console for the printer
// driver: JSON-RPC 2.0 over a websocket and plain HTTP, with every line the
// firmware prints pushed to websocket clients.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tothambrus11/3d-printer-controller/pkg/bus"
	hosterr "github.com/tothambrus11/3d-printer-controller/pkg/errors"
	"github.com/tothambrus11/3d-printer-controller/pkg/log"
	"github.com/tothambrus11/3d-printer-controller/pkg/printer"
)

// Driver is the part of *printer.Printer the console uses.
type Driver interface {
	State() printer.ConnectionState
	CoordinateMode() printer.CoordinateMode
	CachedPosition() printer.Vector3D
	HomedAxes() []printer.Axis
	Speed() float64
	Envelope() printer.Envelope

	PositionSnapshot(ctx context.Context) (printer.PositionSnapshot, error)
	RunScript(ctx context.Context, r io.Reader) (int, error)
	AutoHome(ctx context.Context, axes ...printer.Axis) error
	Go(ctx context.Context, dx, dy, dz float64, opts ...printer.MoveOption) error
	GoTo(ctx context.Context, t printer.Target) error
	SetSpeed(ctx context.Context, mmPerSec float64) error
	EmergencyStop() error
	Subscribe(h bus.Handler) (*bus.Subscription, error)
}

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":7125".
	Addr string

	Driver Driver
}

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

// Server is the console API server.
type Server struct {
	driver Driver
	addr   string
	log    *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[int64]*wsClient
	nextID    int64

	forwardMu sync.Mutex
	forward   *bus.Subscription

	// pongWait bounds the silence from a websocket client. Pings go out
	// at half that interval.
	pongWait time.Duration

	startTime time.Time
}

// New creates a console server.
func New(cfg Config) *Server {
	s := &Server{
		driver:    cfg.Driver,
		addr:      cfg.Addr,
		log:       log.GetLogger("console"),
		clients:   make(map[int64]*wsClient),
		pongWait:  60 * time.Second,
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Handler returns the HTTP routes, wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/printer/info", s.handlePrinterInfo)
	mux.HandleFunc("/printer/position", s.handlePosition)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	mux.HandleFunc("/printer/emergency_stop", s.handleEmergencyStop)
	return corsMiddleware(mux)
}

// Forward subscribes to the driver's firmware lines and pushes each one to
// the websocket clients as notify_gcode_response. The driver must be
// ready. Calling it again while forwarding is a no-op.
func (s *Server) Forward() error {
	s.forwardMu.Lock()
	defer s.forwardMu.Unlock()
	if s.forward != nil && s.forward.Active() {
		return nil
	}
	sub, err := s.driver.Subscribe(s.broadcastLine)
	if err != nil {
		return err
	}
	s.forward = sub
	return nil
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return s.Serve(ln)
}

// Serve forwards firmware lines and serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.Forward(); err != nil {
		s.log.WithError(err).Warn("firmware lines will not be forwarded")
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	s.log.WithField("addr", ln.Addr().String()).Info("console listening")

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes every websocket client and the listener.
func (s *Server) Stop() error {
	s.forwardMu.Lock()
	if s.forward != nil {
		s.forward.Unsubscribe()
		s.forward = nil
	}
	s.forwardMu.Unlock()

	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.Close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientsMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) broadcastLine(line string) {
	s.broadcast(notification("notify_gcode_response", []any{line}))
}

func (s *Server) broadcast(msg any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Send(msg)
	}
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func notification(method string, params any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	}
}

// rpcError converts a handler error into a JSON-RPC error.
func rpcError(err error) *jsonRPCError {
	var me *methodError
	if errors.As(err, &me) {
		return &jsonRPCError{Code: me.code, Message: me.msg}
	}
	e := &jsonRPCError{Code: codeServerError, Message: err.Error()}
	var he *hosterr.HostError
	if errors.As(err, &he) {
		e.Data = map[string]any{"code": string(he.Code), "axis": he.Axis}
		if he.Code == hosterr.ErrInvalidArgument {
			e.Code = codeInvalidParams
		}
	}
	return e
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}

	writeJSON(w, http.StatusOK, s.call(r.Context(), req))
}

func (s *Server) call(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	result, err := s.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		return jsonRPCResponse{JSONRPC: "2.0", Error: rpcError(err), ID: req.ID}
	}
	return jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID}
}

// REST endpoint handlers

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.methodEmergencyStop()
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handlePrinterInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, _ := s.methodPrinterInfo()
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.methodPosition(r.Context())
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleGCodeScript takes the script from the query string or a JSON body
// of the form {"script": "..."}.
func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := map[string]any{}
	if script := r.URL.Query().Get("script"); script != "" {
		params["script"] = script
	} else if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, invalidParams("body: %v", err))
			return
		}
	}

	result, err := s.methodGCodeScript(r.Context(), params)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeJSONError maps driver errors onto HTTP statuses.
func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var me *methodError
	switch {
	case errors.As(err, &me):
		status = http.StatusBadRequest
	case hosterr.Is(err, hosterr.ErrInvalidArgument), hosterr.IsOutOfBounds(err):
		status = http.StatusBadRequest
	case hosterr.Is(err, hosterr.ErrNotReady), hosterr.IsTransport(err):
		status = http.StatusServiceUnavailable
	case hosterr.IsTimeout(err):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": rpcError(err)})
}

// wsClient is one websocket connection. Requests are queued to a worker
// so the read loop keeps answering pings while a move runs.
type wsClient struct {
	id       int64
	conn     *websocket.Conn
	server   *Server
	sendCh   chan any
	requests chan []byte
	done     chan struct{}
	once     sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

func (s *Server) newClient(conn *websocket.Conn) *wsClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsClient{
		id:       atomic.AddInt64(&s.nextID, 1),
		conn:     conn,
		server:   s,
		sendCh:   make(chan any, 256),
		requests: make(chan []byte, maxQueuedRequests),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

const maxQueuedRequests = 32

// Send queues msg. Messages to a client whose queue is full are dropped.
func (c *wsClient) Send(msg any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.log.WithField("client", c.id).Warn("dropping message, send queue full")
	}
}

func (c *wsClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	pongWait := c.server.pongWait
	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		select {
		case c.requests <- message:
		default:
			c.Send(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &jsonRPCError{Code: codeServerError, Message: "too many pending requests"},
			})
		}
	}
}

// workPump runs queued requests one at a time, in arrival order.
func (c *wsClient) workPump() {
	for {
		select {
		case message := <-c.requests:
			c.handleMessage(message)
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.server.pongWait / 2)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.log.WithError(err).Debug("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleMessage runs one request. A long move holds later requests from
// the same client.
func (c *wsClient) handleMessage(data []byte) {
	var req jsonRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.Send(jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: codeParseError, Message: "Parse error"},
		})
		return
	}
	c.Send(c.server.call(c.ctx, req))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.newClient(conn)
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	s.log.WithField("client", client.id).Info("websocket client connected")

	info, _ := s.methodPrinterInfo()
	client.Send(notification("notify_printer_state", []any{info}))

	go client.writePump()
	go client.workPump()
	client.readPump()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
	s.log.WithField("client", c.id).Info("websocket client disconnected")
}

// splitScript turns a script parameter into a reader, accepting either a
// string or a list of lines.
func splitScript(v any) (io.Reader, error) {
	switch s := v.(type) {
	case string:
		return strings.NewReader(s), nil
	case []any:
		lines := make([]string, 0, len(s))
		for _, l := range s {
			str, ok := l.(string)
			if !ok {
				return nil, invalidParams("script lines must be strings")
			}
			lines = append(lines, str)
		}
		return strings.NewReader(strings.Join(lines, "\n")), nil
	}
	return nil, invalidParams("missing script")
}
