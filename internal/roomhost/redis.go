package roomhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxTxRetries = 8

// Redis keeps each room as JSON under room:<id> and fans events out over
// Pub/Sub on room:<id>:events. Transitions use WATCH so concurrent hosts
// never both apply a move to the same ply.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: obslog.Or(logger)}
}

func roomKey(id string) string   { return "room:" + id }
func eventsKey(id string) string { return "room:" + id + ":events" }

func (r *Redis) Load(ctx context.Context, roomID string) (*room.State, error) {
	raw, err := r.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st room.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return &st, nil
}

func (r *Redis) Update(ctx context.Context, roomID string, fn UpdateFunc) (*room.State, error) {
	key := roomKey(roomID)
	var out *room.State
	txf := func(tx *redis.Tx) error {
		var cur *room.State
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var st room.State
			if jerr := json.Unmarshal(raw, &st); jerr != nil {
				return fmt.Errorf("decode room %s: %w", roomID, jerr)
			}
			cur = &st
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}

		pipe := tx.TxPipeline()
		if next == nil {
			pipe.Del(ctx, key)
		} else {
			newRaw, merr := json.Marshal(next)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, newRaw, r.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = next
		return nil
	}

	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		r.logger.Debug("room_tx_retry", zap.String("room_id", roomID), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("room %s: %w", roomID, redis.TxFailedErr)
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, eventsKey(ev.RoomID), raw).Err()
}

// Subscribe returns once the subscription is confirmed, so events published
// after it returns are delivered.
func (r *Redis) Subscribe(ctx context.Context, roomID string, fn func(Event)) (func(), error) {
	ps := r.rdb.Subscribe(ctx, eventsKey(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("room_event_decode_failed", zap.String("room_id", roomID), zap.Error(err))
				continue
			}
			fn(ev)
		}
	}()
	return func() {
		_ = ps.Close()
		<-done
	}, nil
}
