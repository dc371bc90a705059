package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/eventlog"
	"github.com/nhtrieuvy/PlanPalApp-sub002/internal/hub"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/auth"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Dependencies groups the transport's collaborators.
type Dependencies struct {
	Hub    *hub.Hub
	Log    *eventlog.Service
	Auth   auth.Validator
	Logger logger.Logger
	Config config.HubConfig
}

var (
	ErrMissingHub  = errors.New("ws: connection hub is required")
	ErrMissingLog  = errors.New("ws: event log is required")
	ErrMissingAuth = errors.New("ws: token validator is required")
)

// Server terminates client WebSocket sessions. Each accepted socket gets a
// read pump on the request goroutine and a write pump draining the hub
// connection's outbound stream.
type Server struct {
	hub    *hub.Hub
	log    *eventlog.Service
	auth   auth.Validator
	logger logger.Logger
	cfg    config.HubConfig
}

// NewServer builds the transport.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Hub == nil {
		return nil, ErrMissingHub
	}
	if deps.Log == nil {
		return nil, ErrMissingLog
	}
	if deps.Auth == nil {
		return nil, ErrMissingAuth
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Config.HeartbeatInterval <= 0 {
		deps.Config.HeartbeatInterval = 30 * time.Second
	}
	return &Server{
		hub:    deps.Hub,
		log:    deps.Log,
		auth:   deps.Auth,
		logger: deps.Logger,
		cfg:    deps.Config,
	}, nil
}

// ServeHTTP upgrades the request and runs the session until either side
// closes. Token and topics arrive on the query string so the handshake
// completes before any frame is exchanged.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", logger.Field{Key: "error", Value: err})
		return
	}

	identity, err := s.auth.Validate(r.Context(), bearerToken(r))
	if err != nil {
		s.reject(ws, websocket.ClosePolicyViolation, "invalid token")
		return
	}

	topics := splitTopics(r.URL.Query().Get("topics"))
	conn, err := s.hub.Accept(r.Context(), hub.Handshake{Identity: identity, Topics: topics})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.reject(ws, websocket.ClosePolicyViolation, "unauthorized topic")
		} else {
			s.reject(ws, websocket.CloseInternalServerErr, "handshake failed")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.writePump(ctx, ws, conn)

	// Replayed frames go through the same outbound queue as live frames so
	// one writer drains both. A live event racing its own replay can reach
	// the client twice; frames are idempotent by (topic, sequence) and
	// clients drop anything at or below the highest sequence already seen.
	for _, topic := range topics {
		if err := s.replayTopic(ctx, conn, topic); err != nil {
			s.logger.Error("replay failed",
				logger.Field{Key: "identity", Value: identity},
				logger.Field{Key: "topic", Value: topic},
				logger.Field{Key: "error", Value: err},
			)
			s.hub.Close(conn, "replay failed")
			ws.Close()
			return
		}
	}

	s.readPump(ctx, ws, conn)
}

// replayTopic queues every retained event past the client's ack floor. A
// floor that fell behind retention produces a gap frame with last_good 0,
// which tells the client to resynchronize full state out of band.
func (s *Server) replayTopic(ctx context.Context, conn *hub.Connection, topic string) error {
	floor, err := s.log.AckFloor(ctx, conn.Identity, topic)
	if err != nil {
		return err
	}
	replay, err := s.log.Replay(ctx, topic, floor)
	if errors.Is(err, domain.ErrStaleReplay) {
		s.hub.Queue(conn, domain.GapFrame{Type: domain.FrameTypeGap, Topic: topic}, true)
		return nil
	}
	if err != nil {
		return err
	}
	for {
		page, err := replay.Next(ctx)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for i := range page {
			s.hub.Queue(conn, domain.NewEventFrame(&page[i]), page[i].Kind.Critical())
		}
	}
}

// writePump drains the connection's outbound stream onto the socket and
// keeps the peer alive with pings.
func (s *Server) writePump(ctx context.Context, ws *websocket.Conn, conn *hub.Connection) {
	ping := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ping.Stop()

	frames := make(chan domain.Frame)
	go func() {
		defer close(frames)
		for {
			frame, ok := conn.Next(ctx)
			if !ok {
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := ws.WriteJSON(frame); err != nil {
				s.hub.Close(conn, "write failed")
				return
			}
		case <-ping.C:
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Close(conn, "ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readPump decodes inbound client frames until the socket dies. It owns the
// read deadline: two missed heartbeat intervals end the session.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, conn *hub.Connection) {
	defer func() {
		s.hub.Close(conn, "socket closed")
		ws.Close()
	}()

	deadline := 2 * s.cfg.HeartbeatInterval
	ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		s.hub.Heartbeat(conn)
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var frame domain.ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		ws.SetReadDeadline(time.Now().Add(deadline))

		switch frame.Op {
		case domain.ClientOpSubscribe:
			if err := s.hub.Subscribe(ctx, conn, frame.Topic); err != nil {
				s.logger.Warn("subscribe rejected",
					logger.Field{Key: "identity", Value: conn.Identity},
					logger.Field{Key: "topic", Value: frame.Topic},
				)
				continue
			}
			if err := s.replayTopic(ctx, conn, frame.Topic); err != nil {
				s.logger.Error("subscribe replay failed",
					logger.Field{Key: "topic", Value: frame.Topic},
					logger.Field{Key: "error", Value: err},
				)
			}
		case domain.ClientOpUnsubscribe:
			s.hub.Unsubscribe(conn, frame.Topic)
		case domain.ClientOpHeartbeat:
			s.hub.Heartbeat(conn)
		case domain.ClientOpAck:
			if err := s.log.Ack(ctx, conn.Identity, frame.Topic, frame.Sequence); err != nil {
				s.logger.Error("ack failed",
					logger.Field{Key: "identity", Value: conn.Identity},
					logger.Field{Key: "topic", Value: frame.Topic},
					logger.Field{Key: "error", Value: err},
				)
			}
		default:
			s.logger.Warn("unknown client op", logger.Field{Key: "op", Value: frame.Op})
		}
	}
}

func (s *Server) reject(ws *websocket.Conn, code int, reason string) {
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	ws.Close()
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

func splitTopics(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			topics = append(topics, trimmed)
		}
	}
	return topics
}
