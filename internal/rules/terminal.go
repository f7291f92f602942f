package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const (
	ResultWhiteWins = "1-0"
	ResultBlackWins = "0-1"
	ResultDraw      = "1/2-1/2"
)

type Reason string

const (
	ReasonCheckmate    Reason = "checkmate"
	ReasonStalemate    Reason = "stalemate"
	ReasonInsufficient Reason = "insufficient"
	ReasonThreefold    Reason = "threefold"
	ReasonFiftyMove    Reason = "fifty-move"
	ReasonResignation  Reason = "resignation"
)

// Termination is the classification of a replayed history.
type Termination struct {
	Over    bool
	Result  string
	Reason  Reason
	Skipped int
}

// WinFor returns the result string for a win by c.
func WinFor(c Color) string {
	if c == White {
		return ResultWhiteWins
	}
	return ResultBlackWins
}

// ClassifyTerminal replays history from the start position and classifies the
// final position. Unreadable entries are skipped and counted.
func (e *Engine) ClassifyTerminal(history []string) Termination {
	g := nchess.NewGame()
	reps := map[string]int{repetitionKey(g): 1}
	skipped := 0
	for _, san := range history {
		san = strings.TrimSpace(san)
		if san == "" {
			skipped++
			continue
		}
		if err := g.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			skipped++
			continue
		}
		reps[repetitionKey(g)]++
	}
	t := classify(g, reps)
	t.Skipped = skipped
	return t
}

func classify(g *nchess.Game, reps map[string]int) Termination {
	pos := g.Position()
	toMove := colorOf(pos.Turn())

	switch {
	case pos.Status() == nchess.Checkmate:
		return Termination{Over: true, Result: WinFor(toMove.Opposite()), Reason: ReasonCheckmate}
	case pos.Status() == nchess.Stalemate:
		return Termination{Over: true, Result: ResultDraw, Reason: ReasonStalemate}
	case insufficientMaterial(pos.Board()):
		return Termination{Over: true, Result: ResultDraw, Reason: ReasonInsufficient}
	case reps[repetitionKey(g)] >= 3:
		return Termination{Over: true, Result: ResultDraw, Reason: ReasonThreefold}
	case HalfmoveClock(g.FEN()) >= 100:
		return Termination{Over: true, Result: ResultDraw, Reason: ReasonFiftyMove}
	}
	return Termination{}
}

// repetitionKey keeps placement, side and castling. The en passant square
// counts only while a legal en passant capture exists.
func repetitionKey(g *nchess.Game) string {
	f := fenFields(g.FEN())
	if f[3] != "-" && !canCaptureEnPassant(g) {
		f[3] = "-"
	}
	return strings.Join(f[:4], " ")
}

func canCaptureEnPassant(g *nchess.Game) bool {
	moves := g.ValidMoves()
	for i := range moves {
		if moves[i].HasTag(nchess.EnPassant) {
			return true
		}
	}
	return false
}

// insufficientMaterial: bare kings, a single minor piece, or only bishops all
// standing on one square color.
func insufficientMaterial(b *nchess.Board) bool {
	knights := 0
	bishops := 0
	bishopSquareColors := map[int]bool{}
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			p := b.Piece(square(f, r))
			if p == nchess.NoPiece {
				continue
			}
			switch p.Type() {
			case nchess.King:
			case nchess.Knight:
				knights++
			case nchess.Bishop:
				bishops++
				bishopSquareColors[(f+r)%2] = true
			default:
				return false
			}
		}
	}
	switch {
	case knights == 0 && bishops == 0:
		return true
	case knights == 1 && bishops == 0:
		return true
	case knights == 0 && len(bishopSquareColors) == 1:
		return true
	}
	return false
}

func inCheck(pos *nchess.Position) bool {
	toMove := pos.Turn()
	b := pos.Board()
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			p := b.Piece(square(f, r))
			if p != nchess.NoPiece && p.Type() == nchess.King && p.Color() == toMove {
				return attacked(b, f, r, opponent(toMove))
			}
		}
	}
	return false
}

func opponent(c nchess.Color) nchess.Color {
	if c == nchess.White {
		return nchess.Black
	}
	return nchess.White
}

var (
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	orthogonal  = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonal    = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func onBoard(f, r int) bool { return f >= 0 && f < 8 && r >= 0 && r < 8 }

// attacked reports whether square (f, r) is attacked by a piece of color by.
func attacked(b *nchess.Board, f, r int, by nchess.Color) bool {
	is := func(ff, rr int, types ...nchess.PieceType) bool {
		if !onBoard(ff, rr) {
			return false
		}
		p := b.Piece(square(ff, rr))
		if p == nchess.NoPiece || p.Color() != by {
			return false
		}
		for _, t := range types {
			if p.Type() == t {
				return true
			}
		}
		return false
	}

	pawnRank := r - 1
	if by == nchess.Black {
		pawnRank = r + 1
	}
	if is(f-1, pawnRank, nchess.Pawn) || is(f+1, pawnRank, nchess.Pawn) {
		return true
	}
	for _, s := range knightSteps {
		if is(f+s[0], r+s[1], nchess.Knight) {
			return true
		}
	}
	for _, s := range kingSteps {
		if is(f+s[0], r+s[1], nchess.King) {
			return true
		}
	}
	slide := func(dirs [][2]int, types ...nchess.PieceType) bool {
		for _, d := range dirs {
			ff, rr := f+d[0], r+d[1]
			for onBoard(ff, rr) {
				p := b.Piece(square(ff, rr))
				if p != nchess.NoPiece {
					if is(ff, rr, types...) {
						return true
					}
					break
				}
				ff += d[0]
				rr += d[1]
			}
		}
		return false
	}
	return slide(orthogonal, nchess.Rook, nchess.Queen) || slide(diagonal, nchess.Bishop, nchess.Queen)
}
