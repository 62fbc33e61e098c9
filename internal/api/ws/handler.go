package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/infrastructure/monitoring"
	"github.com/streamctl/streamd/internal/rpc"
	"github.com/streamctl/streamd/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon binds to operator-controlled interfaces
	},
}

// Handler upgrades HTTP requests into RPC sessions.
type Handler struct {
	router  *rpc.Router
	bus     *events.Broadcaster
	log     *logging.Logger
	metrics *monitoring.Metrics

	maxClients int
	sendBuffer int
	clients    atomic.Int64
}

// NewHandler creates a WebSocket handler. maxClients <= 0 means unlimited.
func NewHandler(router *rpc.Router, bus *events.Broadcaster, log *logging.Logger, maxClients, sendBuffer int) *Handler {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Handler{
		router:     router,
		bus:        bus,
		log:        log.Named("ws"),
		maxClients: maxClients,
		sendBuffer: sendBuffer,
	}
}

// WithMetrics adds connection and message metrics.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// Clients returns the number of live sessions.
func (h *Handler) Clients() int {
	return int(h.clients.Load())
}

// acquireSlot claims a client slot. The claim is atomic with the cap
// check so simultaneous upgrades cannot overshoot maxClients.
func (h *Handler) acquireSlot() bool {
	for {
		n := h.clients.Load()
		if h.maxClients > 0 && int(n) >= h.maxClients {
			return false
		}
		if h.clients.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// HandleConnection upgrades the request and runs the session until the
// peer disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	if !h.acquireSlot() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many clients"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.clients.Add(-1)
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessID := id.NewSessionID().String()
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.log.Info("client connected", zap.String("session_id", sessID))

	s := &session{
		handler: h,
		conn:    conn,
		log:     h.log.With(zap.String("session_id", sessID)),
		sessID:  sessID,
		out:     make(chan []byte, h.sendBuffer),
		done:    make(chan struct{}),
	}
	s.run(c.Request.Context())

	h.clients.Add(-1)
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.log.Info("client disconnected", zap.String("session_id", sessID))
}

// session is one connected client. The wire is written by exactly one
// goroutine; everything else enqueues on out.
type session struct {
	handler *Handler
	conn    *websocket.Conn
	log     *logging.Logger
	sessID  string

	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func (s *session) run(ctx context.Context) {
	s.inflight = make(map[string]struct{})

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		s.writeLoop()
	}()
	go func() {
		defer pumps.Done()
		s.eventLoop()
	}()

	s.readLoop(ctx)

	s.close()
	s.wg.Wait() // let in-flight dispatches finish enqueueing
	pumps.Wait()
}

// close signals shutdown exactly once. In-flight requests are abandoned;
// their responses are dropped by the writer once the wire is gone.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *session) readLoop(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if s.handler.metrics != nil {
			s.handler.metrics.WSMessages.WithLabelValues("in").Inc()
		}
		s.handleFrame(ctx, raw)
	}
}

// handleFrame parses one inbound frame and dispatches it without blocking
// the reader, so requests may be answered out of order.
func (s *session) handleFrame(ctx context.Context, raw []byte) {
	var req rpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		// Salvage the id if the frame is valid JSON with a string id,
		// so the caller can still correlate the failure.
		s.send(rpc.Fail(salvageID(raw), rpc.CodeParseError, "parse error: "+err.Error()))
		return
	}
	if req.Method == "" {
		s.send(rpc.Fail(req.ID, rpc.CodeInvalidRequest, "missing required field: method"))
		return
	}
	if req.ID == "" {
		s.send(rpc.Fail("", rpc.CodeInvalidRequest, "missing required field: id"))
		return
	}

	s.mu.Lock()
	if _, dup := s.inflight[req.ID]; dup {
		s.mu.Unlock()
		s.send(rpc.Fail(req.ID, rpc.CodeInvalidRequest, "request id already in flight: "+req.ID))
		return
	}
	s.inflight[req.ID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.handler.router.Dispatch(ctx, req)

		s.mu.Lock()
		delete(s.inflight, req.ID)
		s.mu.Unlock()

		s.send(resp)
	}()
}

// send enqueues a response frame. Responses must not be lost while the
// session lives, so this blocks if the writer is behind.
func (s *session) send(resp rpc.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		return
	}
	select {
	case s.out <- raw:
	case <-s.done:
	}
}

// eventLoop forwards broadcast events to this session. A full outbound
// queue drops the event rather than stalling other sessions.
func (s *session) eventLoop() {
	sub := s.handler.bus.Subscribe(s.sessID)
	defer s.handler.bus.Unsubscribe(s.sessID)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encode event", zap.Error(err))
				continue
			}
			select {
			case s.out <- raw:
			default:
				if s.handler.metrics != nil {
					s.handler.metrics.EventsDropped.Inc()
				}
				s.log.Debug("event dropped", zap.String("event", string(ev.Event)))
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case raw := <-s.out:
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.close()
				return
			}
			if s.handler.metrics != nil {
				s.handler.metrics.WSMessages.WithLabelValues("out").Inc()
			}
		case <-s.done:
			return
		}
	}
}

// salvageID extracts the id from a frame that failed full decoding.
func salvageID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
