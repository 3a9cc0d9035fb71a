package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/middleware"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/logger"
	"camstream/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	MessageCommand     = "command"
	MessageCreateView  = "create_view"
	MessageDestroyView = "destroy_view"
	MessageSnapshot    = "snapshot"
	MessageViews       = "views"

	ReplyAck   = "ack"
	ReplyError = "error"
	ReplyEvent = "event"

	maxMessageSize = 64 << 10
)

// Message is a host request. ID is echoed on the reply.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ViewTag int             `json:"view_tag,omitempty"`
	Command *domain.Command `json:"command,omitempty"`
}

// Reply is everything the bridge writes to a host: request replies and
// pushed view events.
type Reply struct {
	Type     string               `json:"type"`
	ID       string               `json:"id,omitempty"`
	ViewTag  int                  `json:"view_tag,omitempty"`
	Views    []int                `json:"views,omitempty"`
	Snapshot *domain.ViewSnapshot `json:"snapshot,omitempty"`
	Event    *domain.Event        `json:"event,omitempty"`
	Code     string               `json:"code,omitempty"`
	Message  string               `json:"message,omitempty"`
}

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
	// NewLimiter builds the per-connection message limiter. A nil func or a
	// nil limiter disables limiting.
	NewLimiter func() *rate.Limiter
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// Server carries host commands to the view registry over websocket and pushes
// view events back to every connected host.
type Server struct {
	cfg      Config
	views    ports.ViewCommands
	auth     services.AuthService
	upgrader websocket.Upgrader

	connections map[string]*connection
	mu          sync.RWMutex
	dropped     atomic.Int64

	logger *zap.SugaredLogger
	clog   *logger.ContextLogger
}

var _ ports.EventSink = (*Server)(nil)

// NewServer creates a bridge. auth may be nil when bearer auth is disabled.
func NewServer(cfg Config, views ports.ViewCommands, auth services.AuthService, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:         cfg,
		views:       views,
		auth:        auth,
		connections: make(map[string]*connection),
		logger:      log,
		clog:        logger.NewContextLogger(log.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type connection struct {
	hostID  string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once
}

func (c *connection) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue hands data to the write pump. With block unset a full queue drops
// the message.
func (c *connection) enqueue(data []byte, block bool) bool {
	if block {
		select {
		case c.send <- data:
			return true
		case <-c.done:
			return false
		}
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	hostID, err := s.authenticate(r)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.HTTPStatus)
		_ = json.NewEncoder(w).Encode(Reply{Type: ReplyError, Code: string(appErr.Code), Message: appErr.Message})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Bridge upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &connection{
		hostID: hostID,
		ws:     ws,
		send:   make(chan []byte, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	if s.cfg.NewLimiter != nil {
		c.limiter = s.cfg.NewLimiter()
	}

	s.mu.Lock()
	existing, isReconnect := s.connections[hostID]
	s.connections[hostID] = c
	s.mu.Unlock()
	if isReconnect {
		existing.close()
		s.logger.Infow("Closing previous bridge connection", "host_id", hostID)
	}
	s.logger.Infow("Host connected", "host_id", hostID, "reconnect", isReconnect)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(c)
	}()

	s.readPump(ctx, c)

	cancel()
	c.close()
	wg.Wait()

	s.mu.Lock()
	if s.connections[hostID] == c {
		delete(s.connections, hostID)
	}
	s.mu.Unlock()
	s.logger.Infow("Host disconnected", "host_id", hostID)
}

// authenticate resolves the host id: from the bearer token when auth is on,
// else from the host_id query parameter or a fresh uuid.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.auth == nil {
		if id := r.URL.Query().Get("host_id"); id != "" {
			return id, nil
		}
		return uuid.New().String(), nil
	}
	token, ok := middleware.BearerToken(r)
	if !ok {
		return "", apperrors.NewUnauthorizedError("bearer token required")
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return "", apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized)
	}
	return claims.HostID, nil
}

func (s *Server) readPump(ctx context.Context, c *connection) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("Bridge read failed", "host_id", c.hostID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(c, errorReply("", apperrors.NewInvalidInputError("malformed message")))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			s.clog.LogWarn(logger.WithHost(ctx, c.hostID), "Bridge message rate limited", zap.String("type", msg.Type))
			s.reply(c, errorReply(msg.ID, apperrors.NewRateLimitError()))
			continue
		}
		s.reply(c, s.handleMessage(ctx, c.hostID, msg))
	}
}

func (s *Server) writePump(c *connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("Bridge write failed", "host_id", c.hostID, "error", err)
				c.close()
				_ = c.ws.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("Bridge ping failed", "host_id", c.hostID, "error", err)
				c.close()
				_ = c.ws.Close()
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			_ = c.ws.Close()
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, hostID string, msg Message) Reply {
	ctx, span := tracing.TraceBridgeMessage(ctx, msg.Type, hostID)
	defer span.End()
	ctx = logger.WithHost(ctx, hostID)
	if msg.ViewTag != 0 {
		ctx = logger.WithView(ctx, msg.ViewTag)
	}
	start := time.Now()

	out := Reply{Type: ReplyAck, ID: msg.ID, ViewTag: msg.ViewTag}
	var err error

	switch msg.Type {
	case MessageCommand:
		if msg.Command == nil {
			err = apperrors.NewInvalidInputError("command is required")
			break
		}
		if msg.Command.ViewTag == 0 {
			msg.Command.ViewTag = msg.ViewTag
		}
		out.ViewTag = msg.Command.ViewTag
		ctx = logger.WithView(ctx, msg.Command.ViewTag)
		if msg.Command.RequestID != 0 {
			ctx = logger.WithRequest(ctx, msg.Command.RequestID)
		}
		tracing.AddSpanAttributes(ctx,
			tracing.CommandKey.String(string(msg.Command.Name)),
			tracing.ViewTagKey.Int(msg.Command.ViewTag))
		err = s.views.Dispatch(ctx, *msg.Command)

	case MessageCreateView:
		if msg.ViewTag == 0 {
			out.ViewTag, err = s.views.CreateView(ctx)
		} else {
			err = s.views.CreateViewWithTag(ctx, msg.ViewTag)
		}

	case MessageDestroyView:
		err = s.views.DestroyView(ctx, msg.ViewTag)

	case MessageSnapshot:
		var snap domain.ViewSnapshot
		snap, err = s.views.Snapshot(ctx, msg.ViewTag)
		if err == nil {
			out.Snapshot = &snap
		}

	case MessageViews:
		out.Views = s.views.Views(ctx)

	default:
		err = apperrors.NewInvalidInputError("unknown message type: " + msg.Type)
	}

	s.clog.LogCommand(ctx, msg.Type, time.Since(start).Microseconds(), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		tracing.AddSpanAttributes(ctx, attribute.String("bridge.error_code", string(apperrors.CodeOf(err))))
		return errorReply(msg.ID, err)
	}
	return out
}

func errorReply(id string, err error) Reply {
	r := Reply{Type: ReplyError, ID: id, Code: string(apperrors.CodeOf(err)), Message: err.Error()}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		r.Message = appErr.Message
		if appErr.Cause != nil {
			r.Message += ": " + appErr.Cause.Error()
		}
	}
	return r
}

func (s *Server) reply(c *connection, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		s.logger.Errorw("Failed to encode bridge reply", "error", err)
		return
	}
	c.enqueue(data, true)
}

// Deliver pushes an event to every connected host. Hosts whose queue is full
// miss the event.
func (s *Server) Deliver(event domain.Event) {
	data, err := json.Marshal(Reply{Type: ReplyEvent, ViewTag: event.ViewTag, Event: &event})
	if err != nil {
		s.logger.Errorw("Failed to encode event", "type", event.Type, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for hostID, c := range s.connections {
		if !c.enqueue(data, false) {
			s.dropped.Add(1)
			s.logger.Warnw("Dropping event for slow host", "host_id", hostID, "type", event.Type, "view_tag", event.ViewTag)
		}
	}
}

func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Dropped is the number of events not delivered to a connected host.
func (s *Server) Dropped() int64 {
	return s.dropped.Load()
}

// Close disconnects every host.
func (s *Server) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		c.close()
	}
}
