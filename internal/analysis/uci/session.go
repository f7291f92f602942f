// Package uci drives a UCI engine process such as Stockfish.
package uci

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	stopGrace           = 500 * time.Millisecond
)

type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
	MultiPV    int
	// Elo > 0 enables UCI_LimitStrength.
	Elo int
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

// Line is one principal variation. Exactly one of CP or Mate is set when the
// engine reported a score; both are from the side to move's point of view.
type Line struct {
	Move      string
	CP        *int
	Mate      *int
	Principal []string
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Lines    []Line
	BestMove string
}

type readResult struct {
	line string
	err  error
}

type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan readResult
	done   chan struct{}
	logger *zap.Logger
	mu     sync.Mutex
	search sync.Mutex
	closed bool
}

// NewSession starts binaryPath and runs the uci/isready handshake.
func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := newSession(stdin, stdoutPipe)
	s.cmd = cmd
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewSessionIO runs the handshake over an already connected engine stream.
func NewSessionIO(ctx context.Context, in io.WriteCloser, out io.Reader, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	s := newSession(in, out)
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(in io.WriteCloser, out io.Reader) *Session {
	s := &Session{stdin: in, lines: make(chan readResult, 64), done: make(chan struct{}), logger: obslog.L()}
	go s.pump(bufio.NewReader(out))
	return s
}

// pump is the only reader of the engine's stdout.
func (s *Session) pump(r *bufio.Reader) {
	defer close(s.lines)
	emit := func(res readResult) bool {
		select {
		case s.lines <- res:
			return true
		case <-s.done:
			return false
		}
	}
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			if !emit(readResult{line: strings.TrimSpace(line)}) {
				return
			}
		}
		if err != nil {
			emit(readResult{err: err})
			return
		}
	}
}

// Search runs one go command. When ctx ends first the engine is told to stop
// and ctx's error is returned; the session should then be discarded.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	positionCmd := buildPositionCommand(req.FEN, req.Moves)
	if err := s.send(positionCmd); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
	defer cancel()

	lines := make(map[int]Line)
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			if ctx.Err() != nil {
				s.stop()
				return SearchResponse{}, ctx.Err()
			}
			s.logger.Warn("uci_read_error",
				zap.String("position", strings.TrimSpace(positionCmd)),
				zap.String("go", goCmd),
				zap.Error(err),
			)
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if idx, l, ok := parseInfo(line); ok {
				lines[idx] = l
			}
		case strings.HasPrefix(line, "bestmove"):
			var best string
			if parts := strings.Fields(line); len(parts) >= 2 {
				best = parts[1]
			}
			return SearchResponse{Lines: collapseLines(lines), BestMove: best}, nil
		}
	}
}

// stop asks the engine to abandon the search and drains briefly for bestmove.
func (s *Session) stop() {
	if err := s.send("stop\n"); err != nil {
		return
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	_ = s.awaitToken(drainCtx, "bestmove")
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	if opt.Elo < 0 {
		return fmt.Errorf("elo must be >= 0: %d", opt.Elo)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		return time.Duration(l.MoveTimeMillis+2000) * time.Millisecond
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

func parseInfo(line string) (int, Line, bool) {
	parts := strings.Fields(line)
	var (
		multipv = 1
		out     Line
		pvIdx   = -1
	)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					multipv = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				if v, err := strconv.Atoi(parts[i+2]); err == nil {
					switch parts[i+1] {
					case "cp":
						out.CP, out.Mate = &v, nil
					case "mate":
						out.Mate, out.CP = &v, nil
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}
	if pvIdx == -1 || pvIdx >= len(parts) {
		return 0, Line{}, false
	}
	out.Principal = append([]string(nil), parts[pvIdx:]...)
	out.Move = out.Principal[0]
	return multipv, out, true
}

func collapseLines(m map[int]Line) []Line {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Line, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(opt) {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threads),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel),
		fmt.Sprintf("setoption name MultiPV value %d\n", opt.MultiPV),
	}
	if opt.Elo > 0 {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true\n",
			fmt.Sprintf("setoption name UCI_Elo value %d\n", opt.Elo),
		)
	}
	return cmds
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}
