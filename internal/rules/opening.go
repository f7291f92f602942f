package rules

import (
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening is an ECO classification.
type Opening struct {
	Code  string
	Title string
}

// ClassifyOpening names the opening a game from the start position followed.
// Replay stops at the first unreadable move; ok is false when no book line
// matches.
func ClassifyOpening(history []string) (Opening, bool) {
	g := nchess.NewGame()
	for _, san := range history {
		if err := g.PushNotationMove(strings.TrimSpace(san), nchess.AlgebraicNotation{}, nil); err != nil {
			break
		}
	}
	if len(g.Moves()) == 0 {
		return Opening{}, false
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return Opening{}, false
	}
	o := ecoBook.Find(g.Moves())
	if o == nil {
		return Opening{}, false
	}
	return Opening{Code: o.Code(), Title: o.Title()}, true
}
