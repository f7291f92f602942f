package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/roomhost"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const defaultSendQueue = 64

// Server accepts WebSocket clients and bridges their requests to a Host.
// A connection binds to the member id of its first join.
type Server struct {
	host      *roomhost.Host
	origins   []string
	sendQueue int
	logger    *zap.Logger
}

type ServerOption func(*Server)

// WithOriginPatterns allows cross-origin browsers matching patterns.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

func WithSendQueue(n int) ServerOption {
	return func(s *Server) { s.sendQueue = n }
}

func NewServer(host *roomhost.Host, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{host: host, sendQueue: defaultSendQueue, logger: obslog.Or(logger)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type serverConn struct {
	memberID string
	out      chan Envelope
	cancel   context.CancelFunc

	mu   sync.Mutex
	subs map[string]func()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	sc := &serverConn{out: make(chan Envelope, s.sendQueue), cancel: cancel, subs: make(map[string]func())}
	s.logger.Info("ws_client_connected", zap.String("remote", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx, c, sc)
	}()

	for {
		var env Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.logger.Debug("ws_client_read_failed", zap.String("member_id", sc.memberID), zap.Error(err))
			}
			break
		}
		s.handle(ctx, sc, &env)
	}

	sc.mu.Lock()
	for roomID, unsub := range sc.subs {
		unsub()
		delete(sc.subs, roomID)
	}
	sc.mu.Unlock()
	cancel()
	wg.Wait()
	_ = c.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("ws_client_disconnected", zap.String("member_id", sc.memberID))
}

func (s *Server) writeLoop(ctx context.Context, c *websocket.Conn, sc *serverConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sc.out:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c, env)
			cancel()
			if err != nil {
				s.logger.Debug("ws_client_write_failed", zap.Error(err))
				sc.cancel()
				return
			}
		}
	}
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (s *Server) enqueue(sc *serverConn, env Envelope) {
	select {
	case sc.out <- env:
	default:
		s.logger.Warn("ws_send_queue_full", zap.String("t", env.T))
		sc.cancel()
	}
}

func (s *Server) handle(ctx context.Context, sc *serverConn, env *Envelope) {
	if env.T == TypeJoin {
		switch {
		case env.MemberID == "":
			s.enqueue(sc, ErrorEnvelope(env, ErrNotJoined))
			return
		case sc.memberID == "":
			sc.memberID = env.MemberID
		case sc.memberID != env.MemberID:
			s.enqueue(sc, ErrorEnvelope(env, ErrMemberChange))
			return
		}
		if err := s.subscribe(ctx, sc, env.RoomID); err != nil {
			s.logger.Warn("ws_subscribe_failed", zap.String("room_id", env.RoomID), zap.Error(err))
			s.enqueue(sc, ErrorEnvelope(env, err))
			return
		}
	} else if sc.memberID == "" {
		s.enqueue(sc, ErrorEnvelope(env, ErrNotJoined))
		return
	}

	if err := dispatch(ctx, s.host, sc.memberID, env); err != nil {
		s.enqueue(sc, ErrorEnvelope(env, err))
		return
	}
	if env.T == TypeLeave {
		sc.mu.Lock()
		if unsub, ok := sc.subs[env.RoomID]; ok {
			unsub()
			delete(sc.subs, env.RoomID)
		}
		sc.mu.Unlock()
	}
}

func (s *Server) subscribe(ctx context.Context, sc *serverConn, roomID string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.subs[roomID]; ok {
		return nil
	}
	unsub, err := s.host.Subscribe(ctx, roomID, func(ev roomhost.Event) {
		out, err := EventEnvelope(ev)
		if err != nil {
			s.logger.Warn("ws_event_encode_failed", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		s.enqueue(sc, out)
	})
	if err != nil {
		return err
	}
	sc.subs[roomID] = unsub
	return nil
}
