package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderProvider injects headers into the WebSocket handshake.
type HeaderProvider func() map[string]string

// WebSocket is a reconnecting client. Connectivity changes are reported
// through OnStateChange; frames through OnMessage.
type WebSocket struct {
	callbacks

	wsURL  string
	logger *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connCancel context.CancelFunc
	state      ConnState
	writeM     sync.Mutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	reconnecting         atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	headerProvider HeaderProvider
}

type WSOption func(*WebSocket)

func WithPingInterval(d time.Duration) WSOption {
	return func(ws *WebSocket) { ws.pingInterval = d }
}

func WithHeaderProvider(h HeaderProvider) WSOption {
	return func(ws *WebSocket) { ws.headerProvider = h }
}

func WithLogger(logger *zap.Logger) WSOption {
	return func(ws *WebSocket) { ws.logger = logger }
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration, opts ...WSOption) *WebSocket {
	ws := &WebSocket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ws)
	}
	ws.logger = obslog.Or(ws.logger)
	if ws.reconnectDelay <= 0 {
		ws.reconnectDelay = time.Second
	}
	return ws
}

func (ws *WebSocket) State() ConnState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	if st := ws.State(); st == StateConnected || st == StateConnecting {
		return nil
	}
	ws.setState(StateConnecting)

	conn, err := ws.dial(ctx)
	if err != nil {
		ws.logger.Warn("ws_connect_failed", zap.String("url", ws.wsURL), zap.Error(err))
		ws.setState(StateFailed)
		ws.scheduleReconnect()
		return err
	}
	ws.attach(conn)
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, ws.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	return conn, err
}

// attach installs conn and starts its reader and pinger.
func (ws *WebSocket) attach(conn *websocket.Conn) {
	cctx, cancel := context.WithCancel(context.Background())
	ws.mu.Lock()
	ws.conn = conn
	ws.connCancel = cancel
	ws.mu.Unlock()
	ws.setState(StateConnected)
	ws.logger.Info("ws_connected", zap.String("url", ws.wsURL))

	ws.wg.Add(2)
	go ws.listen(cctx, conn)
	go ws.pingLoop(cctx, conn)
}

// drop closes conn if it is still current. It reports whether it did.
func (ws *WebSocket) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) bool {
	ws.mu.Lock()
	if ws.conn != conn || conn == nil {
		ws.mu.Unlock()
		return false
	}
	ws.conn = nil
	cancel := ws.connCancel
	ws.connCancel = nil
	ws.mu.Unlock()

	_ = conn.Close(code, reason)
	if cancel != nil {
		cancel()
	}
	ws.setState(StateDisconnected)
	return true
}

func (ws *WebSocket) listen(ctx context.Context, conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ws.isStopping() || ctx.Err() != nil {
				return
			}
			ws.logger.Warn("ws_read_failed", zap.Error(err))
			if ws.drop(conn, websocket.StatusGoingAway, "reconnect") {
				ws.scheduleReconnect()
			}
			return
		}
		ws.emitMessage(&env)
	}
}

func (ws *WebSocket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures < 2 {
				continue
			}
			if ws.isStopping() {
				return
			}
			if ws.drop(conn, websocket.StatusGoingAway, "ping failure") {
				ws.scheduleReconnect()
			}
			return
		}
	}
}

func (ws *WebSocket) backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := ws.reconnectDelay * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnectAttempts <= 0 || ws.isStopping() {
		return
	}
	if !ws.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ws.setState(StateReconnecting)

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		defer ws.reconnecting.Store(false)
		for attempt := 1; attempt <= ws.maxReconnectAttempts; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(ws.backoff(attempt)):
			}

			conn, err := ws.dial(context.Background())
			if err != nil {
				ws.logger.Debug("ws_reconnect_attempt_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if ws.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			ws.attach(conn)
			return
		}
		ws.logger.Warn("ws_reconnect_exhausted", zap.Int("attempts", ws.maxReconnectAttempts))
		ws.setState(StateFailed)
	}()
}

// Send writes one frame. Writes are serialized; a call without a deadline
// gets a 5s bound.
func (ws *WebSocket) Send(ctx context.Context, env Envelope) error {
	ws.mu.Lock()
	conn, state := ws.conn, ws.state
	ws.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	return wsjson.Write(ctx, conn, env)
}

func (ws *WebSocket) setState(state ConnState) {
	ws.mu.Lock()
	changed := ws.state != state
	ws.state = state
	ws.mu.Unlock()
	if changed {
		ws.emitState(state)
	}
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	ws.drop(conn, websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headerProvider == nil {
		return hdr
	}
	for k, v := range ws.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
