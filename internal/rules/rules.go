// Package rules adapts github.com/corentings/chess/v2 to the room model:
// positions are FEN strings, moves are square pairs, history is SAN.
package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrBadPosition = errors.New("invalid position")
	ErrBadSquare   = errors.New("invalid square")
)

// Color is the side letter used in FEN and seat labels.
type Color string

const (
	White Color = "w"
	Black Color = "b"
)

func (c Color) Valid() bool { return c == White || c == Black }

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Name() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return ""
	}
}

// Move is a from/to square pair with an optional promotion piece (q, r, b, n).
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in long algebraic form, e.g. e7e8q.
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

func parseUCI(s string) Move {
	if len(s) < 4 {
		return Move{}
	}
	return Move{From: s[0:2], To: s[2:4], Promotion: s[4:]}
}

// ParseUCI reads a long algebraic move such as e2e4 or a7a8q.
func ParseUCI(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	mv := parseUCI(s)
	if _, err := parseSquare(mv.From); err != nil {
		return Move{}, err
	}
	if _, err := parseSquare(mv.To); err != nil {
		return Move{}, err
	}
	if mv.Promotion != "" && !strings.Contains("qrbn", mv.Promotion) {
		return Move{}, fmt.Errorf("%w: promotion %q", ErrBadSquare, mv.Promotion)
	}
	return mv, nil
}

// Applied is the outcome of a legal move.
type Applied struct {
	FEN  string
	SAN  string
	Move Move
}

// Capability is the rules contract the room core consumes.
type Capability interface {
	LegalMoves(fen, square string) ([]Move, error)
	ApplyMove(fen string, mv Move) (Applied, error)
	ApplySAN(fen string, sans []string) (string, error)
	DecodeSAN(fen, san string) (Move, error)
	ClassifyTerminal(history []string) Termination
	SideToMove(fen string) (Color, error)
	InCheck(fen string) (bool, error)
	ColorAt(fen, square string) (Color, bool, error)
}

// Engine implements Capability. It is stateless and safe for concurrent use.
type Engine struct{}

func New() *Engine { return &Engine{} }

var _ Capability = (*Engine)(nil)

func load(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	if len(strings.Fields(fen)) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields", ErrBadPosition)
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt), nil
}

func colorOf(c nchess.Color) Color {
	switch c {
	case nchess.White:
		return White
	case nchess.Black:
		return Black
	default:
		return ""
	}
}

func (e *Engine) SideToMove(fen string) (Color, error) {
	g, err := load(fen)
	if err != nil {
		return "", err
	}
	c := colorOf(g.Position().Turn())
	if c == "" {
		return "", fmt.Errorf("%w: no side to move", ErrBadPosition)
	}
	return c, nil
}

// ColorAt reports the color of the piece on square; ok is false for an empty square.
func (e *Engine) ColorAt(fen, square string) (Color, bool, error) {
	sq, err := parseSquare(square)
	if err != nil {
		return "", false, err
	}
	g, err := load(fen)
	if err != nil {
		return "", false, err
	}
	p := g.Position().Board().Piece(sq)
	if p == nchess.NoPiece {
		return "", false, nil
	}
	return colorOf(p.Color()), true, nil
}

func (e *Engine) LegalMoves(fen, square string) ([]Move, error) {
	if _, err := parseSquare(square); err != nil {
		return nil, err
	}
	g, err := load(fen)
	if err != nil {
		return nil, err
	}
	from := strings.ToLower(strings.TrimSpace(square))
	var out []Move
	for _, mv := range g.ValidMoves() {
		m := parseUCI(mv.String())
		if m.From == from {
			out = append(out, m)
		}
	}
	return out, nil
}

// ApplyMove plays mv on fen. A pawn reaching the last rank without an explicit
// promotion piece promotes to a queen.
func (e *Engine) ApplyMove(fen string, mv Move) (Applied, error) {
	if _, err := parseSquare(mv.From); err != nil {
		return Applied{}, err
	}
	if _, err := parseSquare(mv.To); err != nil {
		return Applied{}, err
	}
	g, err := load(fen)
	if err != nil {
		return Applied{}, err
	}
	uci := mv.UCI()
	if !isValid(g, uci) {
		if mv.Promotion != "" || !isValid(g, uci+"q") {
			return Applied{}, ErrIllegalMove
		}
		uci += "q"
	}
	pos := g.Position()
	decoded, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, decoded)
	if err := g.Move(decoded, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return Applied{FEN: g.FEN(), SAN: san, Move: parseUCI(uci)}, nil
}

func isValid(g *nchess.Game, uci string) bool {
	for _, mv := range g.ValidMoves() {
		if mv.String() == uci {
			return true
		}
	}
	return false
}

// ApplySAN replays sans from fen and fails on the first illegal entry.
func (e *Engine) ApplySAN(fen string, sans []string) (string, error) {
	g, err := load(fen)
	if err != nil {
		return "", err
	}
	for i, san := range sans {
		if err := g.PushNotationMove(strings.TrimSpace(san), nchess.AlgebraicNotation{}, nil); err != nil {
			return "", fmt.Errorf("%w: ply %d %q", ErrIllegalMove, i+1, san)
		}
	}
	return g.FEN(), nil
}

// DecodeSAN resolves san against fen into its square pair.
func (e *Engine) DecodeSAN(fen, san string) (Move, error) {
	g, err := load(fen)
	if err != nil {
		return Move{}, err
	}
	san = strings.TrimSpace(san)
	if san == "" {
		return Move{}, ErrIllegalMove
	}
	mv, err := nchess.AlgebraicNotation{}.Decode(g.Position(), san)
	if err != nil || mv == nil {
		return Move{}, ErrIllegalMove
	}
	m := parseUCI(mv.String())
	if !isValid(g, m.UCI()) {
		return Move{}, ErrIllegalMove
	}
	return m, nil
}

func (e *Engine) InCheck(fen string) (bool, error) {
	g, err := load(fen)
	if err != nil {
		return false, err
	}
	return inCheck(g.Position()), nil
}

func parseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return square(int(s[0]-'a'), int(s[1]-'1')), nil
}

func square(file, rank int) nchess.Square {
	return nchess.NewSquare(nchess.FileA+nchess.File(file), nchess.Rank1+nchess.Rank(rank))
}

// fenFields returns the six FEN fields, padding missing counters.
func fenFields(fen string) []string {
	f := strings.Fields(fen)
	for len(f) < 6 {
		switch len(f) {
		case 4:
			f = append(f, "0")
		case 5:
			f = append(f, "1")
		default:
			f = append(f, "-")
		}
	}
	return f
}

// SideOf reads the side-to-move field without validating the position.
func SideOf(fen string) Color {
	c := Color(fenFields(fen)[1])
	if !c.Valid() {
		return ""
	}
	return c
}

// HalfmoveClock reads the fifth FEN field.
func HalfmoveClock(fen string) int {
	n, err := strconv.Atoi(fenFields(fen)[4])
	if err != nil {
		return 0
	}
	return n
}

// SamePosition compares placement, side to move and castling rights.
func SamePosition(a, b string) bool {
	fa, fb := fenFields(a), fenFields(b)
	return fa[0] == fb[0] && fa[1] == fb[1] && fa[2] == fb[2]
}
