package kv

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "test:"), mr
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("Get a = %q ok=%v err=%v", v, ok, err)
	}
	type blob struct{ N int }
	if err := SetJSON(ctx, s, "j", blob{N: 7}, 0); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var b blob
	if ok, err := GetJSON(ctx, s, "j", &b); err != nil || !ok || b.N != 7 {
		t.Fatalf("GetJSON = %+v ok=%v err=%v", b, ok, err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("a should be deleted")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestRedisStore(t *testing.T) {
	s, mr := newTestRedis(t)
	exerciseStore(t, s)
	if err := s.Set(context.Background(), "p", "x", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := mr.Get("test:p"); err != nil || got != "x" {
		t.Fatalf("prefixed key not found: %q %v", got, err)
	}
}

func TestRedisTTL(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	if err := s.Set(ctx, "ttl", "x", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "ttl"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestMemoryTTL(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	_ = m.Set(ctx, "k", "v", time.Second)
	now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := ParseRedisURL("redis://:secret@localhost:6380/3")
	if err != nil {
		t.Fatalf("ParseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.DB != 3 || opts.Password != "secret" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := ParseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestDial(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb, err := Dial(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = rdb.Close()
}
