package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/analysis"
	"github.com/park285/cheese-rooms/internal/analysis/uci"
	"github.com/park285/cheese-rooms/internal/archive"
	appcfg "github.com/park285/cheese-rooms/internal/config"
	"github.com/park285/cheese-rooms/internal/identity"
	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/msgcat"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/roomhost"
	"github.com/park285/cheese-rooms/internal/rules"
	"github.com/park285/cheese-rooms/internal/session"
	"github.com/park285/cheese-rooms/internal/transport"
	"go.uber.org/zap"
)

const kvPrefix = "cheese:"

// runPlay joins a room and drives it from stdin.
func runPlay(ctx context.Context, cfg *appcfg.AppConfig, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	roomFlag := fs.String("room", "", "room code to join; a new code is generated when empty")
	modeFlag := fs.String("mode", string(room.Mode1v1), "room mode: 1v1 or 2v2")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode := room.Mode(*modeFlag)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", *modeFlag)
	}

	logger := obslog.L()
	cat, err := msgcat.New(cfg.MsgcatDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	store, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	me, err := identity.PlayerID(ctx, store)
	if err != nil {
		return fmt.Errorf("player id: %w", err)
	}
	var name string
	if cfg.DisplayName != "" {
		name, err = identity.SetDisplayName(ctx, store, cfg.DisplayName)
	} else {
		name, err = identity.DisplayName(ctx, store, me)
	}
	if err != nil {
		return fmt.Errorf("display name: %w", err)
	}

	records, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = records.Close() }()

	var cloud *archive.Cloud
	var outbox archive.Outbox
	if cfg.ArchiveCloudURL != "" {
		cloud = archive.NewCloud(cfg.ArchiveCloudURL, cfg.ArchiveCloudToken, store, logger)
		outbox = cloud
	}
	pipeline := archive.NewPipeline(records, outbox, logger)

	var analyzer *analysis.Analyzer
	if cfg.StockfishPath != "" {
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Options:    uci.Options{Threads: 1, SkillLevel: cfg.AnalysisSkill, HashMB: 16, MultiPV: 1},
			Capacity:   cfg.AnalysisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("engine pool: %w", err)
		}
		defer func() { _ = pool.Close() }()
		budget := time.Duration(cfg.AnalysisBudgetMS) * time.Millisecond
		analyzer = analysis.NewAnalyzer(analysis.NewEngine(pool, logger), store, budget, logger)
	}

	client := newClient(cfg, me, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	sess := session.New(session.Deps{
		MemberID:      me,
		DisplayName:   name,
		Client:        client,
		KV:            store,
		Rules:         rules.New(),
		Pipeline:      pipeline,
		Analyzer:      analyzer,
		Logger:        logger,
		RejoinTimeout: 5 * time.Second,
	})
	defer sess.Close()

	p := &printer{out: os.Stdout, cat: cat, sess: sess, cloud: cloud, logger: logger}
	cancelUpdates := sess.OnUpdate(p.update)
	defer cancelUpdates()

	if cloud != nil {
		p.flushCloud(ctx)
	}

	restored, err := sess.Restore(ctx)
	if err != nil {
		logger.Warn("play_restore_failed", zap.Error(err))
	}
	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	roomID := room.NormalizeCode(*roomFlag)
	if roomID == "" && restored != nil && !restored.Terminal() {
		roomID = restored.RoomID
		mode = restored.Mode
	}
	if roomID == "" {
		if roomID, err = room.NewCode(); err != nil {
			return err
		}
	}
	if err := sess.Join(ctx, roomID, mode); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	p.line(cat.Text("room.joined", map[string]any{"RoomID": roomID, "Mode": mode, "Name": name}))

	return p.repl(ctx, os.Stdin, records)
}

func openKV(ctx context.Context, cfg *appcfg.AppConfig) (kv.Store, func(), error) {
	if cfg.RedisURL == "" {
		return kv.NewMemory(), func() {}, nil
	}
	rdb, err := kv.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return kv.NewRedis(rdb, kvPrefix), func() { _ = rdb.Close() }, nil
}

func openArchive(ctx context.Context, cfg *appcfg.AppConfig) (archive.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		return archive.NewPostgresStore(ctx, cfg.DatabaseURL)
	case cfg.ArchiveSQLitePath != "":
		return archive.NewSQLiteStore(ctx, cfg.ArchiveSQLitePath)
	default:
		return archive.NewMemoryStore(), nil
	}
}

// newClient returns a WebSocket to the room server, or an in-process
// loopback host when offline.
func newClient(cfg *appcfg.AppConfig, me string, logger *zap.Logger) transport.Client {
	if cfg.Offline {
		host := roomhost.New(roomhost.NewMemory(), rules.New(), logger)
		return transport.NewLoopback(host, me, logger)
	}
	return transport.NewWebSocket(cfg.ServerURL, cfg.WSMaxReconnect, cfg.WSReconnectDelay, transport.WithLogger(logger))
}

type printer struct {
	out    io.Writer
	cat    *msgcat.Catalog
	sess   *session.Session
	cloud  *archive.Cloud
	logger *zap.Logger

	// Only touched from transport state callbacks.
	seenOnline bool
	offline    bool

	mu       sync.Mutex
	lastSeat room.Seat
}

func (p *printer) line(s string) {
	fmt.Fprintln(p.out, s)
}

func (p *printer) update(u session.Update) {
	switch u.Kind {
	case session.UpdateState:
		p.state(u.Change)
	case session.UpdateChat:
		if u.Chat != nil {
			p.line(p.cat.Text("chat.line", map[string]any{"From": p.memberName(u.Chat.From), "Text": u.Chat.Txt}))
		}
	case session.UpdateRejected:
		p.line(p.rejection(u.Err))
	case session.UpdateArchived:
		p.line(p.cat.Text("archive.saved", map[string]any{"Moves": u.Record.Moves, "Result": u.Record.Result}))
		if p.cloud != nil {
			go p.flushCloud(context.Background())
		}
	case session.UpdateArchiveError:
		p.logger.Warn("play_archive_failed", zap.String("room_id", u.RoomID), zap.Error(u.Err))
		p.line(p.cat.Text("archive.failed", nil))
	case session.UpdateOnline:
		switch {
		case u.Online && !p.seenOnline:
			p.seenOnline = true
		case !u.Online && p.seenOnline && !p.offline:
			p.offline = true
			p.line(p.cat.Text("room.offline", nil))
		case u.Online && p.offline:
			p.offline = false
			p.line(p.cat.Text("room.online", map[string]any{"RoomID": u.RoomID}))
		}
	}
}

func (p *printer) state(c *room.Change) {
	if c == nil || c.Next == nil {
		return
	}
	if c.Ack != nil {
		switch c.Ack.Status {
		case room.AckConfirmed:
			p.line(p.cat.Text("room.move_confirmed", map[string]any{"SAN": c.Ack.SAN}))
		case room.AckSuperseded:
			p.line(p.cat.Text("room.move_superseded", map[string]any{"SAN": c.Ack.SAN, "Actual": c.Ack.Actual}))
		}
	}
	next := c.Next
	prev := c.Prev
	switch {
	case next.Terminal() && !prev.Terminal():
		p.line(p.cat.Text("room.finished", map[string]any{"Result": next.Result, "Reason": next.Reason}))
	case next.Started && (prev == nil || !prev.Started):
		p.line(p.cat.Text("room.started", nil))
		if len(room.MySeats(next, p.sess.MemberID())) == 0 {
			p.line(p.cat.Text("room.spectating", nil))
		}
	case !next.Started && room.ReadyToStart(next) && (prev == nil || !room.ReadyToStart(prev)):
		p.line(p.cat.Text("room.ready", nil))
	}
	if next.Started && len(next.HistorySAN) > 0 && (prev == nil || len(prev.HistorySAN) != len(next.HistorySAN)) {
		p.line(archive.MoveText(next.HistorySAN, ""))
	}
	if n := p.sess.Cursor().PendingLiveCount(); n > 0 {
		p.line(p.cat.Text("review.live_behind", map[string]any{"Count": n}))
	}
}

func (p *printer) rejection(err error) string {
	switch {
	case errors.Is(err, room.ErrIllegalMove):
		return p.cat.Text("room.illegal_move", nil)
	case errors.Is(err, roomhost.ErrSeatTaken), errors.Is(err, roomhost.ErrBadSeat):
		p.mu.Lock()
		seat := p.lastSeat
		p.mu.Unlock()
		return p.cat.Text("room.seat_taken", map[string]any{"Seat": seat})
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}

func (p *printer) memberName(id string) string {
	if st := p.sess.View().State; st != nil {
		if m, ok := st.Member(id); ok && m.Name != "" {
			return m.Name
		}
	}
	return identity.DefaultName(id)
}

func (p *printer) flushCloud(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	n, err := p.cloud.Flush(ctx)
	if err != nil {
		p.logger.Warn("play_cloud_flush_failed", zap.Int("sent", n), zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("play_cloud_flushed", zap.Int("sent", n))
	}
}

// repl reads commands until quit, EOF or ctx ends.
func (p *printer) repl(ctx context.Context, in io.Reader, records archive.Store) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return p.leave()
		case text, ok := <-lines:
			if !ok {
				return p.leave()
			}
			quit, err := p.command(ctx, text, records)
			if err != nil {
				p.line(p.rejection(err))
			}
			if quit {
				return p.leave()
			}
		}
	}
}

func (p *printer) leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := p.sess.Leave(ctx)
	if errors.Is(err, session.ErrNoRoom) || errors.Is(err, transport.ErrNotConnected) {
		return nil
	}
	return err
}

func (p *printer) command(ctx context.Context, text string, records archive.Store) (bool, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, nil
	}
	args := fields[1:]
	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return true, nil
	case "help":
		p.line(p.cat.Text("help.play", nil))
	case "seat":
		if len(args) != 1 {
			return false, errors.New("usage: seat <w1|b1|w2|b2|->")
		}
		seat := room.Seat(strings.ToLower(args[0]))
		if seat == "-" {
			seat = ""
		}
		p.mu.Lock()
		p.lastSeat = seat
		p.mu.Unlock()
		return false, p.sess.Seat(ctx, seat)
	case "start":
		return false, p.sess.Start(ctx)
	case "move":
		if len(args) == 0 {
			return false, errors.New("usage: move <from> <to> [promo] | move <SAN>")
		}
		if v := p.sess.View(); v.State != nil && v.State.Started && !v.State.Terminal() && len(v.MySeats) > 0 && !v.IsMyTurn {
			p.line(p.cat.Text("room.not_your_turn", map[string]any{"Side": room.SideToMove(v.State).Name()}))
			return false, nil
		}
		san, err := p.sess.Move(ctx, strings.Join(args, ""))
		if err != nil {
			return false, err
		}
		if _, pending := p.sess.Store().Pending(p.sess.RoomID()); pending {
			p.line(p.cat.Text("room.move_pending", map[string]any{"SAN": san}))
		}
	case "resign":
		return false, p.sess.Resign(ctx)
	case "say":
		return false, p.sess.Say(ctx, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0])))
	case "review":
		return false, p.review(args)
	case "eval":
		return false, p.eval(ctx)
	case "games":
		return false, p.games(ctx, records)
	case "pgn":
		pgn, err := p.sess.PGN()
		if err != nil {
			return false, err
		}
		p.line(pgn)
	default:
		p.line(p.cat.Text("help.play", nil))
	}
	return false, nil
}

func (p *printer) review(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: review <ply>|live")
	}
	if strings.EqualFold(args[0], "live") {
		p.sess.GoLive()
	} else {
		ply, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad ply %q", args[0])
		}
		p.sess.ReviewAt(ply)
	}
	fen, ply, err := p.sess.ReviewFEN()
	if err != nil {
		return err
	}
	total := len(p.sess.View().State.HistorySAN)
	p.line(p.cat.Text("review.position", map[string]any{"Ply": ply, "Total": total}))
	p.line(fen)
	return nil
}

func (p *printer) eval(ctx context.Context) error {
	ev, line, err := p.sess.Evaluate(ctx)
	if errors.Is(err, session.ErrNoAnalysis) {
		p.line(p.cat.Text("analysis.unavailable", nil))
		return nil
	}
	if err != nil {
		return err
	}
	pv := strings.Join(line, " ")
	if ev.Mate != nil {
		p.line(p.cat.Text("analysis.eval_mate", map[string]any{"Mate": *ev.Mate, "PV": pv}))
	} else if ev.CP != nil {
		p.line(p.cat.Text("analysis.eval_cp", map[string]any{"CP": *ev.CP, "PV": pv}))
	}
	return nil
}

func (p *printer) games(ctx context.Context, records archive.Store) error {
	rows, err := records.ListGameRecords(ctx, 10, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		p.line(p.cat.Text("archive.empty", nil))
		return nil
	}
	for _, r := range rows {
		p.line(p.cat.Text("archive.row", map[string]any{
			"CreatedAt": r.CreatedAt.Local().Format("2006-01-02 15:04"),
			"White":     r.WhiteName,
			"Black":     r.BlackName,
			"Result":    r.Result,
			"Moves":     r.Moves,
		}))
	}
	return nil
}
