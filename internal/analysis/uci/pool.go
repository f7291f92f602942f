package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

// Factory starts one ready session.
type Factory func(ctx context.Context) (*Session, error)

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
	// Factory overrides process spawning.
	Factory Factory
}

// Pool keeps up to Capacity engine sessions with one option set.
type Pool struct {
	factory  Factory
	capacity int

	mu     sync.Mutex
	total  int
	idle   chan *Session
	owned  map[*Session]struct{}
	closed bool
}

var ErrPoolClosed = errors.New("engine pool closed")

func NewPool(cfg PoolConfig) (*Pool, error) {
	factory := cfg.Factory
	if factory == nil {
		if cfg.BinaryPath == "" {
			return nil, fmt.Errorf("binary path required")
		}
		if _, err := os.Stat(cfg.BinaryPath); err != nil {
			return nil, fmt.Errorf("stockfish binary check: %w", err)
		}
		if err := validateOptions(cfg.Options); err != nil {
			return nil, err
		}
		path, opt := cfg.BinaryPath, cfg.Options
		factory = func(ctx context.Context) (*Session, error) { return NewSession(ctx, path, opt) }
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		factory:  factory,
		capacity: capacity,
		idle:     make(chan *Session, capacity),
		owned:    make(map[*Session]struct{}),
	}, nil
}

// Acquire returns an idle ready session, starts a new one under capacity, or
// waits for a release.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			if err := s.EnsureReady(ctx); err != nil {
				p.discard(s)
				continue
			}
			return s, nil
		default:
		}

		s, err := p.create(ctx)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errAtCapacity) {
			return nil, err
		}

		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			if err := s.EnsureReady(ctx); err != nil {
				p.discard(s)
				continue
			}
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var errAtCapacity = errors.New("engine pool at capacity")

func (p *Pool) create(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errAtCapacity
	}
	p.total++
	p.mu.Unlock()

	s, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Lock()
	p.owned[s] = struct{}{}
	p.mu.Unlock()
	return s, nil
}

// Release returns s to the pool. A non-nil err (including cancellation)
// discards the session instead.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.owned[s]
	closed := p.closed
	p.mu.Unlock()
	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || closed {
		p.discard(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		p.discard(s)
	}
}

func (p *Pool) discard(s *Session) {
	p.mu.Lock()
	if _, ok := p.owned[s]; ok {
		delete(p.owned, s)
		p.total--
	}
	p.mu.Unlock()
	_ = s.Close()
}

// Size reports the number of live sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			p.mu.Lock()
			delete(p.owned, s)
			p.total--
			p.mu.Unlock()
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
