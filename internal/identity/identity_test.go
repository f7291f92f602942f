package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/park285/cheese-rooms/internal/kv"
)

func TestNewPlayerIDShape(t *testing.T) {
	id, err := NewPlayerID()
	if err != nil {
		t.Fatalf("NewPlayerID: %v", err)
	}
	if !strings.HasPrefix(id, "u_") || len(id) != 14 {
		t.Fatalf("bad id %q", id)
	}
	for _, c := range id[2:] {
		if !strings.ContainsRune(idAlphabet, c) {
			t.Fatalf("bad char %q in %q", c, id)
		}
	}
}

func TestPlayerIDIsStable(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	a, err := PlayerID(ctx, store)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := PlayerID(ctx, store)
	if err != nil || a != b {
		t.Fatalf("second = %q, %v; want %q", b, err, a)
	}
}

func TestDisplayName(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	name, err := DisplayName(ctx, store, "u_abcdefgh1234")
	if err != nil || name != "Guest-1234" {
		t.Fatalf("default = %q, %v", name, err)
	}
	if _, err := SetDisplayName(ctx, store, "   "); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("empty name err = %v", err)
	}
	if _, err := SetDisplayName(ctx, store, "  Alice "); err != nil {
		t.Fatalf("set: %v", err)
	}
	if name, _ := DisplayName(ctx, store, "u_abcdefgh1234"); name != "Alice" {
		t.Fatalf("saved = %q", name)
	}
	if DefaultName("ab") != "Guest-ab" {
		t.Fatalf("short id default = %q", DefaultName("ab"))
	}
}
