package transport

import (
	"context"
	"sync"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/roomhost"
	"go.uber.org/zap"
)

// Loopback connects one member to an in-process host, for offline play.
// Requests apply synchronously; rejections come back as error frames just
// like on the WebSocket.
type Loopback struct {
	callbacks

	host     *roomhost.Host
	memberID string
	logger   *zap.Logger

	mu    sync.Mutex
	state ConnState
	subs  map[string]func()
}

func NewLoopback(host *roomhost.Host, memberID string, logger *zap.Logger) *Loopback {
	return &Loopback{
		host:     host,
		memberID: memberID,
		logger:   obslog.Or(logger),
		state:    StateDisconnected,
		subs:     make(map[string]func()),
	}
}

func (l *Loopback) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loopback) Connect(context.Context) error {
	l.SetOnline(true)
	return nil
}

// SetOnline flips the simulated connectivity.
func (l *Loopback) SetOnline(online bool) {
	state := StateDisconnected
	if online {
		state = StateConnected
	}
	l.mu.Lock()
	changed := l.state != state
	l.state = state
	l.mu.Unlock()
	if changed {
		l.emitState(state)
	}
}

func (l *Loopback) Send(ctx context.Context, env Envelope) error {
	if l.State() != StateConnected {
		return ErrNotConnected
	}
	if env.T == TypeJoin {
		if err := l.subscribe(ctx, env.RoomID); err != nil {
			return err
		}
	}
	if err := dispatch(ctx, l.host, l.memberID, &env); err != nil {
		l.logger.Debug("loopback_request_rejected", zap.String("t", env.T), zap.Error(err))
		reply := ErrorEnvelope(&env, err)
		l.emitMessage(&reply)
		return nil
	}
	if env.T == TypeLeave {
		l.mu.Lock()
		unsub := l.subs[env.RoomID]
		delete(l.subs, env.RoomID)
		l.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	}
	return nil
}

func (l *Loopback) subscribe(ctx context.Context, roomID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[roomID]; ok {
		return nil
	}
	unsub, err := l.host.Subscribe(ctx, roomID, func(ev roomhost.Event) {
		if l.State() != StateConnected {
			return
		}
		out, err := EventEnvelope(ev)
		if err != nil {
			l.logger.Warn("loopback_event_encode_failed", zap.Error(err))
			return
		}
		l.emitMessage(&out)
	})
	if err != nil {
		return err
	}
	l.subs[roomID] = unsub
	return nil
}

func (l *Loopback) Close(context.Context) error {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[string]func())
	l.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	l.SetOnline(false)
	return nil
}
