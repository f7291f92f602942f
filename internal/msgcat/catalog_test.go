package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("room.finished", map[string]any{"Result": "1-0", "Reason": "checkmate"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Game over: 1-0 (checkmate)." {
		t.Fatalf("unexpected text: %q", got)
	}
	if c.Text("room.illegal_move", nil) != "Illegal move." {
		t.Fatalf("illegal move text mismatch")
	}
}

func TestMissingKeyFallsBack(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Render("nope.missing", nil); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if got := c.Text("nope.missing", nil); got != "nope.missing" {
		t.Fatalf("fallback = %q", got)
	}
	if _, err := c.Render("room.joined", map[string]any{"RoomID": "r1"}); err == nil {
		t.Fatalf("expected missingkey error")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("room:\n  illegal_move: \"Nope.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("room.illegal_move", nil); got != "Nope." {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("room:\n  illegal_move: \"Again.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
