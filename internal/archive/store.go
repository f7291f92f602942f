package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store is the row store for finished games.
type Store interface {
	InsertGameRecord(ctx context.Context, rec Record) (string, error)
	// ListGameRecords returns records newest first.
	ListGameRecords(ctx context.Context, limit, offset int) ([]Record, error)
	// GetGameRecord returns nil, nil when id is unknown.
	GetGameRecord(ctx context.Context, id string) (*Record, error)
	Close() error
}

const defaultListLimit = 20

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS room_games (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		mode        TEXT NOT NULL,
		result      TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		pgn         TEXT NOT NULL,
		moves       INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL,
		white_name  TEXT NOT NULL,
		black_name  TEXT NOT NULL
	)`

const indexSQL = `CREATE INDEX IF NOT EXISTS room_games_created_at_idx ON room_games (created_at DESC)`

const selectColumns = `id, room_id, created_at, mode, result, reason, pgn, moves, duration_ms, white_name, black_name`

// sqlStore serves both postgres and sqlite. Queries are written with "?" and
// rebound to "$n" for postgres.
type sqlStore struct {
	db      *sql.DB
	dollar  bool
	dialect string
}

func (s *sqlStore) q(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%s schema: %w", s.dialect, err)
	}
	if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("%s index: %w", s.dialect, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) InsertGameRecord(ctx context.Context, rec Record) (string, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return "", fmt.Errorf("insert game record: empty id")
	}
	query := s.q(`
		INSERT INTO room_games (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`)

	var id sql.NullString
	err := s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.RoomID,
		rec.CreatedAt.UnixMilli(),
		rec.Mode,
		rec.Result,
		rec.Reason,
		rec.PGN,
		rec.Moves,
		rec.DurationMs,
		rec.WhiteName,
		rec.BlackName,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return rec.ID, ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("insert game record: %w", err)
	}
	return id.String, nil
}

func (s *sqlStore) ListGameRecords(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	query := s.q(`SELECT ` + selectColumns + ` FROM room_games ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select game records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate game records: %w", err)
	}
	return out, nil
}

func (s *sqlStore) GetGameRecord(ctx context.Context, id string) (*Record, error) {
	query := s.q(`SELECT ` + selectColumns + ` FROM room_games WHERE id = ?`)
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		createdMS int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.RoomID,
		&createdMS,
		&rec.Mode,
		&rec.Result,
		&rec.Reason,
		&rec.PGN,
		&rec.Moves,
		&rec.DurationMs,
		&rec.WhiteName,
		&rec.BlackName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan game record: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdMS).UTC()
	return rec, nil
}
