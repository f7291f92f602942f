// Package identity persists the local player's id and display name.
package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/park285/cheese-rooms/internal/kv"
)

const (
	KeyPlayerID    = "cm.playerId"
	KeyDisplayName = "cm.displayName"

	idPrefix   = "u_"
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 12
	maxNameLen = 32
)

var ErrEmptyName = errors.New("display name is empty")

// NewPlayerID returns "u_" followed by 12 random [a-z0-9] characters.
func NewPlayerID() (string, error) {
	var b strings.Builder
	b.WriteString(idPrefix)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// PlayerID loads the stored id, creating and saving one on first use.
func PlayerID(ctx context.Context, store kv.Store) (string, error) {
	id, ok, err := store.Get(ctx, KeyPlayerID)
	if err != nil {
		return "", fmt.Errorf("load player id: %w", err)
	}
	if ok && strings.TrimSpace(id) != "" {
		return id, nil
	}
	id, err = NewPlayerID()
	if err != nil {
		return "", err
	}
	if err := store.Set(ctx, KeyPlayerID, id, 0); err != nil {
		return "", fmt.Errorf("save player id: %w", err)
	}
	return id, nil
}

// DefaultName is "Guest-" plus the last four characters of id.
func DefaultName(id string) string {
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return "Guest-" + id
}

// DisplayName returns the saved name or the default for id.
func DisplayName(ctx context.Context, store kv.Store, id string) (string, error) {
	name, ok, err := store.Get(ctx, KeyDisplayName)
	if err != nil {
		return "", fmt.Errorf("load display name: %w", err)
	}
	if name = strings.TrimSpace(name); ok && name != "" {
		return name, nil
	}
	return DefaultName(id), nil
}

func SetDisplayName(ctx context.Context, store kv.Store, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	if err := store.Set(ctx, KeyDisplayName, name, 0); err != nil {
		return "", fmt.Errorf("save display name: %w", err)
	}
	return name, nil
}
