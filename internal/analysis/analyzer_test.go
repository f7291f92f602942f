package analysis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-rooms/internal/analysis/uci"
	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/rules"
	"github.com/redis/go-redis/v9"
)

type fakeEvaluator struct {
	calls int
	ev    Evaluation
	err   error
	// block waits for ctx to end before returning.
	block bool
}

func (f *fakeEvaluator) EvaluatePosition(ctx context.Context, _ string, _ time.Duration) (Evaluation, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return Evaluation{}, ctx.Err()
	}
	return f.ev, f.err
}

func newCache(t *testing.T) (kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return kv.NewRedis(rdb, ""), mr
}

func intp(v int) *int { return &v }

func TestEvaluatePlyCaches(t *testing.T) {
	cache, mr := newCache(t)
	f := &fakeEvaluator{ev: Evaluation{CP: intp(25), PV: []string{"e2e4"}}}
	a := NewAnalyzer(f, cache, 0, nil)
	ctx := context.Background()

	ev, hit, err := a.EvaluatePly(ctx, "G1", 0, rules.StartFEN)
	if err != nil || hit || ev.CP == nil || *ev.CP != 25 {
		t.Fatalf("first = %+v hit=%v err=%v", ev, hit, err)
	}
	if !mr.Exists("rc:G1:0") {
		t.Fatalf("cache key not written")
	}
	ev, hit, err = a.EvaluatePly(ctx, "G1", 0, rules.StartFEN)
	if err != nil || !hit || *ev.CP != 25 || ev.PV[0] != "e2e4" {
		t.Fatalf("second = %+v hit=%v err=%v", ev, hit, err)
	}
	if f.calls != 1 {
		t.Fatalf("evaluator calls = %d", f.calls)
	}
}

func TestEvaluatePlyDoesNotCacheFailures(t *testing.T) {
	cache, mr := newCache(t)
	f := &fakeEvaluator{err: errors.New("engine crashed")}
	a := NewAnalyzer(f, cache, 0, nil)
	if _, _, err := a.EvaluatePly(context.Background(), "G1", 3, rules.StartFEN); err == nil {
		t.Fatalf("expected error")
	}
	if mr.Exists("rc:G1:3") {
		t.Fatalf("failure cached")
	}
}

func TestEvaluatePlyCancelled(t *testing.T) {
	cache, mr := newCache(t)
	f := &fakeEvaluator{block: true}
	a := NewAnalyzer(f, cache, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := a.EvaluatePly(ctx, "G1", 4, rules.StartFEN)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if mr.Exists("rc:G1:4") {
		t.Fatalf("cancelled result cached")
	}
}

func TestFlipForBlack(t *testing.T) {
	ev := Evaluation{CP: intp(40), PV: []string{"e7e5"}}.flipped()
	if *ev.CP != -40 || ev.Mate != nil {
		t.Fatalf("flipped = %+v", ev)
	}
	ev = Evaluation{Mate: intp(3)}.flipped()
	if *ev.Mate != -3 || ev.CP != nil {
		t.Fatalf("flipped mate = %+v", ev)
	}
}

func TestSANLine(t *testing.T) {
	got := SANLine(rules.New(), rules.StartFEN, []string{"e2e4", "e7e5", "g1f3", "zz"})
	if len(got) != 3 || got[0] != "e4" || got[2] != "Nf3" {
		t.Fatalf("san line = %v", got)
	}
	if CacheKey("abc", 12) != "rc:abc:12" {
		t.Fatalf("cache key = %q", CacheKey("abc", 12))
	}
}

// scriptedEngine answers the UCI handshake and replies to every go with a
// fixed info line.
func scriptedEngine(in io.Reader, out io.WriteCloser, info string) {
	defer out.Close()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		switch cmd := strings.TrimSpace(sc.Text()); {
		case cmd == "uci":
			fmt.Fprint(out, "uciok\n")
		case cmd == "isready":
			fmt.Fprint(out, "readyok\n")
		case strings.HasPrefix(cmd, "go"):
			fmt.Fprintf(out, "%s\nbestmove e7e5\n", info)
		}
	}
}

func TestEngineEvaluatesFromWhitePerspective(t *testing.T) {
	pool, err := uci.NewPool(uci.PoolConfig{
		Capacity: 1,
		Factory: func(ctx context.Context) (*uci.Session, error) {
			inR, inW := io.Pipe()
			outR, outW := io.Pipe()
			go scriptedEngine(inR, outW, "info depth 6 score cp 40 pv e7e5 g1f3")
			return uci.NewSessionIO(ctx, inW, outR, uci.Options{SkillLevel: 20, HashMB: 16, MultiPV: 1})
		},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	afterE4 := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	ev, err := NewEngine(pool, nil).EvaluatePosition(context.Background(), afterE4, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.CP == nil || *ev.CP != -40 || len(ev.PV) != 2 {
		t.Fatalf("eval = %+v", ev)
	}
}
