package archive

import (
	"fmt"
	"strings"
	"time"
)

const defaultEvent = "Casual Game"

// PGNInput is what BuildPGN needs from a finished game.
type PGNInput struct {
	Event       string
	Date        time.Time
	WhiteName   string
	BlackName   string
	Result      string
	Termination string
	// ECO and Opening are optional classification tags.
	ECO      string
	Opening  string
	MovesSAN []string
}

// BuildPGN renders the tag pairs, a blank line and the numbered move text
// terminated by the result token.
func BuildPGN(in PGNInput) string {
	event := strings.TrimSpace(in.Event)
	if event == "" {
		event = defaultEvent
	}
	date := in.Date
	if date.IsZero() {
		date = time.Now()
	}
	result := strings.TrimSpace(in.Result)
	if result == "" {
		result = "*"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[Event \"%s\"]\n", sanitizePGN(event)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(in.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(in.BlackName)))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n", result))
	if eco := strings.TrimSpace(in.ECO); eco != "" {
		b.WriteString(fmt.Sprintf("[ECO \"%s\"]\n", sanitizePGN(eco)))
	}
	if name := strings.TrimSpace(in.Opening); name != "" {
		b.WriteString(fmt.Sprintf("[Opening \"%s\"]\n", sanitizePGN(name)))
	}
	if t := strings.TrimSpace(in.Termination); t != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(t)))
	}
	b.WriteString("\n")
	b.WriteString(MoveText(in.MovesSAN, result))
	return b.String()
}

// MoveText renders "1. e4 e5 2. Nf3 ... <result>".
func MoveText(sans []string, result string) string {
	var b strings.Builder
	for i := 0; i < len(sans); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(sans[i])))
		if i+1 < len(sans) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(sans[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
