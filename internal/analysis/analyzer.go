// Package analysis evaluates positions with a UCI engine and caches the
// results per game ply.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/park285/cheese-rooms/internal/analysis/uci"
	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/rules"
	"go.uber.org/zap"
)

var ErrNoScore = errors.New("engine reported no score")

// Evaluation is from White's point of view. At most one of CP and Mate is set.
type Evaluation struct {
	CP   *int     `json:"cp,omitempty"`
	Mate *int     `json:"mate,omitempty"`
	PV   []string `json:"pv"`
}

// Evaluator is the analysis capability.
type Evaluator interface {
	EvaluatePosition(ctx context.Context, fen string, budget time.Duration) (Evaluation, error)
}

// Engine evaluates through a pool of UCI sessions.
type Engine struct {
	pool   *uci.Pool
	logger *zap.Logger
}

func NewEngine(pool *uci.Pool, logger *zap.Logger) *Engine {
	return &Engine{pool: pool, logger: obslog.Or(logger)}
}

func (e *Engine) EvaluatePosition(ctx context.Context, fen string, budget time.Duration) (Evaluation, error) {
	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return Evaluation{}, err
	}
	started := time.Now()
	resp, err := session.Search(ctx, uci.SearchRequest{
		FEN:    fen,
		Limits: uci.Limits{MoveTimeMillis: int(budget / time.Millisecond)},
	})
	e.pool.Release(session, err)
	if err != nil {
		return Evaluation{}, err
	}
	if len(resp.Lines) == 0 {
		return Evaluation{}, ErrNoScore
	}
	best := resp.Lines[0]
	ev := Evaluation{CP: best.CP, Mate: best.Mate, PV: best.Principal}
	if ev.CP == nil && ev.Mate == nil {
		return Evaluation{}, ErrNoScore
	}
	if rules.SideOf(fen) == rules.Black {
		ev = ev.flipped()
	}
	e.logger.Debug("analysis_eval",
		zap.Duration("elapsed", time.Since(started)),
		zap.String("best", resp.BestMove),
	)
	return ev, nil
}

func (ev Evaluation) flipped() Evaluation {
	out := Evaluation{PV: ev.PV}
	if ev.CP != nil {
		v := -*ev.CP
		out.CP = &v
	}
	if ev.Mate != nil {
		v := -*ev.Mate
		out.Mate = &v
	}
	return out
}

// CacheKey is "rc:<gameId>:<ply>".
func CacheKey(gameID string, ply int) string {
	return "rc:" + gameID + ":" + strconv.Itoa(ply)
}

// Analyzer wraps an Evaluator with the per-ply cache.
type Analyzer struct {
	eval   Evaluator
	cache  kv.Store
	budget time.Duration
	ttl    time.Duration
	logger *zap.Logger
}

func NewAnalyzer(eval Evaluator, cache kv.Store, budget time.Duration, logger *zap.Logger) *Analyzer {
	if budget <= 0 {
		budget = 240 * time.Millisecond
	}
	return &Analyzer{eval: eval, cache: cache, budget: budget, ttl: 7 * 24 * time.Hour, logger: obslog.Or(logger)}
}

// EvaluatePly returns the cached evaluation for gameID at ply, evaluating fen
// on a miss. Failed or cancelled evaluations are never cached.
func (a *Analyzer) EvaluatePly(ctx context.Context, gameID string, ply int, fen string) (Evaluation, bool, error) {
	key := CacheKey(gameID, ply)
	if a.cache != nil {
		var ev Evaluation
		ok, err := kv.GetJSON(ctx, a.cache, key, &ev)
		if err != nil {
			a.logger.Warn("analysis_cache_read_failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return ev, true, nil
		}
	}

	ev, err := a.eval.EvaluatePosition(ctx, fen, a.budget)
	if err != nil {
		return Evaluation{}, false, fmt.Errorf("evaluate %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return Evaluation{}, false, err
	}
	if a.cache != nil {
		if err := kv.SetJSON(ctx, a.cache, key, ev, a.ttl); err != nil {
			a.logger.Warn("analysis_cache_write_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return ev, false, nil
}

// SANLine renders a UCI principal variation as SAN from fen, stopping at the
// first move that does not apply.
func SANLine(r rules.Capability, fen string, pv []string) []string {
	out := make([]string, 0, len(pv))
	for _, u := range pv {
		mv, err := rules.ParseUCI(u)
		if err != nil {
			break
		}
		applied, err := r.ApplyMove(fen, mv)
		if err != nil {
			break
		}
		out = append(out, applied.SAN)
		fen = applied.FEN
	}
	return out
}
