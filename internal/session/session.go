// Package session wires one client's room pipeline together: transport
// frames are validated and ingested into the room store, and every accepted
// snapshot drives the review cursor, chat log, archive and reconnect logic.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/analysis"
	"github.com/park285/cheese-rooms/internal/archive"
	"github.com/park285/cheese-rooms/internal/chat"
	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/park285/cheese-rooms/internal/reconnect"
	"github.com/park285/cheese-rooms/internal/review"
	"github.com/park285/cheese-rooms/internal/room"
	"github.com/park285/cheese-rooms/internal/rules"
	"github.com/park285/cheese-rooms/internal/transport"
	"go.uber.org/zap"
)

// KeyLastRoomState holds the last ingested snapshot across restarts.
const KeyLastRoomState = "cm.lastRoomState"

var (
	ErrNoRoom     = errors.New("not in a room")
	ErrNoAnalysis = errors.New("analysis is not configured")
	ErrBadMove    = errors.New("cannot read move")
)

type UpdateKind string

const (
	UpdateState        UpdateKind = "state"
	UpdateChat         UpdateKind = "chat"
	UpdateRejected     UpdateKind = "rejected"
	UpdateArchived     UpdateKind = "archived"
	UpdateArchiveError UpdateKind = "archive_error"
	UpdateOnline       UpdateKind = "online"
)

// Update is what the UI layer observes.
type Update struct {
	Kind   UpdateKind
	RoomID string
	Change *room.Change
	Chat   *chat.Message
	Record *archive.Record
	Err    error
	// Ref is the request type behind a rejection.
	Ref    string
	Online bool
}

// Deps are the collaborators of a Session. Pipeline and Analyzer are
// optional.
type Deps struct {
	MemberID    string
	DisplayName string
	Client      transport.Client
	KV          kv.Store
	Rules       rules.Capability
	Pipeline    *archive.Pipeline
	Analyzer    *analysis.Analyzer
	Logger      *zap.Logger
	// RejoinTimeout bounds the automatic rejoin after a reconnect.
	RejoinTimeout time.Duration
}

type Session struct {
	me       string
	name     string
	client   transport.Client
	requests *transport.Requests
	kv       kv.Store
	rules    rules.Capability
	store    *room.Store
	cursor   *review.Cursor
	chat     *chat.Log
	pipeline *archive.Pipeline
	analyzer *analysis.Analyzer
	rejoin   *reconnect.Coordinator
	logger   *zap.Logger

	mu     sync.Mutex
	roomID string

	subMu   sync.RWMutex
	subs    map[int]func(Update)
	nextSub int

	unwire []func()
}

func New(d Deps) *Session {
	logger := obslog.Or(d.Logger)
	requests := transport.NewRequests(d.Client, d.MemberID)
	s := &Session{
		me:       d.MemberID,
		name:     d.DisplayName,
		client:   d.Client,
		requests: requests,
		kv:       d.KV,
		rules:    d.Rules,
		store:    room.NewStore(d.MemberID, d.Rules, requests, logger),
		cursor:   review.New(),
		chat:     chat.NewLog(d.KV),
		pipeline: d.Pipeline,
		analyzer: d.Analyzer,
		logger:   logger,
		subs:     make(map[int]func(Update)),
	}
	s.rejoin = reconnect.New(s.store, d.RejoinTimeout, logger)

	msgID := d.Client.OnMessage(s.handleEnvelope)
	stateID := d.Client.OnStateChange(s.handleConnState)
	cancelStore := s.store.Subscribe(s.onChange)
	s.unwire = []func(){
		func() { d.Client.RemoveMessageCallback(msgID) },
		func() { d.Client.RemoveStateCallback(stateID) },
		cancelStore,
	}
	return s
}

// Connect opens the transport; connectivity changes flow back through
// the state callback.
func (s *Session) Connect(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// Close detaches the session from the transport. The transport itself is
// owned by the caller.
func (s *Session) Close() {
	for _, fn := range s.unwire {
		fn()
	}
	s.unwire = nil
}

func (s *Session) MemberID() string { return s.me }

func (s *Session) Store() *room.Store { return s.store }

func (s *Session) Cursor() *review.Cursor { return s.cursor }

func (s *Session) Pipeline() *archive.Pipeline { return s.pipeline }

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) current() (string, error) {
	id := s.RoomID()
	if id == "" {
		return "", ErrNoRoom
	}
	return id, nil
}

// OnUpdate registers fn and returns its cancel func.
func (s *Session) OnUpdate(fn func(Update)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) emit(u Update) {
	s.subMu.RLock()
	fns := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

// Restore reinstalls the snapshot saved by a previous run. A terminal
// snapshot pre-seeds the archive guard first, so ingesting it again does
// not write a second row.
func (s *Session) Restore(ctx context.Context) (*room.State, error) {
	var st room.State
	ok, err := kv.GetJSON(ctx, s.kv, KeyLastRoomState, &st)
	if err != nil || !ok {
		return nil, err
	}
	if st.Terminal() && s.pipeline != nil {
		s.pipeline.Mark(&st)
	}
	if err := s.store.Ingest(&st); err != nil {
		s.logger.Warn("session_restore_rejected", zap.String("room_id", st.RoomID), zap.Error(err))
		_ = s.kv.Delete(ctx, KeyLastRoomState)
		return nil, nil
	}
	s.mu.Lock()
	s.roomID = st.RoomID
	s.mu.Unlock()
	if !st.Terminal() {
		s.rejoin.Track(reconnect.Target{RoomID: st.RoomID, Mode: st.Mode, DisplayName: s.name})
	}
	s.logger.Info("session_restored", zap.String("room_id", st.RoomID), zap.Bool("terminal", st.Terminal()))
	return s.store.State(st.RoomID), nil
}

// Join tracks roomID for reconnects and asks the host to add us.
func (s *Session) Join(ctx context.Context, roomID string, mode room.Mode) error {
	roomID = strings.TrimSpace(roomID)
	prev := s.RoomID()
	if prev != "" && prev != roomID {
		s.store.Drop(prev)
	}
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
	s.rejoin.Track(reconnect.Target{RoomID: roomID, Mode: mode, DisplayName: s.name})
	return s.store.Join(ctx, roomID, mode, s.name)
}

func (s *Session) Leave(ctx context.Context) error {
	roomID, err := s.current()
	if err != nil {
		return err
	}
	s.rejoin.Untrack()
	err = s.requests.Leave(ctx, roomID)
	s.store.Drop(roomID)
	s.mu.Lock()
	s.roomID = ""
	s.mu.Unlock()
	if derr := s.kv.Delete(ctx, KeyLastRoomState); derr != nil {
		s.logger.Warn("session_state_clear_failed", zap.Error(derr))
	}
	return err
}

func (s *Session) Seat(ctx context.Context, seat room.Seat) error {
	roomID, err := s.current()
	if err != nil {
		return err
	}
	return s.requests.Seat(ctx, roomID, seat)
}

func (s *Session) Start(ctx context.Context) error {
	roomID, err := s.current()
	if err != nil {
		return err
	}
	return s.requests.Start(ctx, roomID)
}

func (s *Session) Resign(ctx context.Context) error {
	roomID, err := s.current()
	if err != nil {
		return err
	}
	return s.requests.Resign(ctx, roomID)
}

func (s *Session) Say(ctx context.Context, text string) error {
	roomID, err := s.current()
	if err != nil {
		return err
	}
	return s.requests.SendChat(ctx, roomID, text)
}

// Move submits a move written as UCI (e2e4, e7e8q) or SAN (Nf3). It returns
// the SAN now pending.
func (s *Session) Move(ctx context.Context, text string) (string, error) {
	roomID, err := s.current()
	if err != nil {
		return "", err
	}
	mv, err := s.parseMove(roomID, text)
	if err != nil {
		return "", err
	}
	return s.store.SubmitMove(ctx, roomID, mv)
}

func (s *Session) parseMove(roomID, text string) (rules.Move, error) {
	text = strings.TrimSpace(text)
	if mv, err := rules.ParseUCI(text); err == nil {
		return mv, nil
	}
	st := s.store.State(roomID)
	if st == nil {
		return rules.Move{}, room.ErrUnknownRoom
	}
	mv, err := s.rules.DecodeSAN(st.FEN, text)
	if err != nil {
		return rules.Move{}, fmt.Errorf("%w: %q", ErrBadMove, text)
	}
	return mv, nil
}

func (s *Session) View() room.View {
	return s.store.View(s.RoomID())
}

func (s *Session) Chat(ctx context.Context) ([]chat.Message, error) {
	roomID, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.chat.Get(ctx, roomID)
}

// ReviewAt moves the cursor to ply, clamped, and returns the new index.
func (s *Session) ReviewAt(ply int) int {
	total := s.liveTotal()
	if ply < total {
		s.cursor.EnterReview(total)
	}
	return s.cursor.SetPlyIndex(ply, total)
}

func (s *Session) GoLive() {
	s.cursor.GoLive(s.liveTotal())
}

func (s *Session) liveTotal() int {
	st := s.store.State(s.RoomID())
	if st == nil {
		return 0
	}
	return len(st.HistorySAN)
}

// ReviewFEN is the position at the cursor.
func (s *Session) ReviewFEN() (string, int, error) {
	st := s.store.State(s.RoomID())
	if st == nil {
		return "", 0, ErrNoRoom
	}
	ply := s.cursor.SetPlyIndex(s.cursor.PlyIndex(), len(st.HistorySAN))
	fen, err := s.rules.ApplySAN(rules.StartFEN, st.HistorySAN[:ply])
	if err != nil {
		return "", ply, err
	}
	return fen, ply, nil
}

// Evaluate analyses the position at the review cursor.
func (s *Session) Evaluate(ctx context.Context) (analysis.Evaluation, []string, error) {
	if s.analyzer == nil {
		return analysis.Evaluation{}, nil, ErrNoAnalysis
	}
	st := s.store.State(s.RoomID())
	if st == nil {
		return analysis.Evaluation{}, nil, ErrNoRoom
	}
	fen, ply, err := s.ReviewFEN()
	if err != nil {
		return analysis.Evaluation{}, nil, err
	}
	ev, _, err := s.analyzer.EvaluatePly(ctx, gameID(st), ply, fen)
	if err != nil {
		return analysis.Evaluation{}, nil, err
	}
	return ev, analysis.SANLine(s.rules, fen, ev.PV), nil
}

// gameID separates games played in the same room.
func gameID(st *room.State) string {
	if st.StartedAt != nil {
		return st.RoomID + "-" + strconv.FormatInt(*st.StartedAt, 10)
	}
	return st.RoomID
}

// PGN renders the current game.
func (s *Session) PGN() (string, error) {
	st := s.store.State(s.RoomID())
	if st == nil {
		return "", ErrNoRoom
	}
	white, black := archive.PlayerNames(st)
	eco, _ := rules.ClassifyOpening(st.HistorySAN)
	date := time.Now()
	if st.StartedAt != nil {
		date = time.UnixMilli(*st.StartedAt)
	}
	return archive.BuildPGN(archive.PGNInput{
		Date:        date,
		WhiteName:   white,
		BlackName:   black,
		Result:      st.Result,
		Termination: st.Reason,
		ECO:         eco.Code,
		Opening:     eco.Title,
		MovesSAN:    st.HistorySAN,
	}), nil
}

func (s *Session) handleConnState(state transport.ConnState) {
	online := state.Online()
	if s.rejoin.SetOnline(context.Background(), online) {
		s.logger.Info("session_resync", zap.String("room_id", s.RoomID()))
	}
	s.emit(Update{Kind: UpdateOnline, RoomID: s.RoomID(), Online: online})
}

func (s *Session) handleEnvelope(env *transport.Envelope) {
	switch env.T {
	case transport.TypeState:
		st, err := room.Decode(env.State, s.rules)
		if err != nil {
			s.logger.Warn("session_snapshot_rejected", zap.String("room_id", env.RoomID), zap.Error(err))
			return
		}
		if st.RoomID != s.RoomID() {
			s.logger.Debug("session_snapshot_other_room", zap.String("room_id", st.RoomID))
			return
		}
		_ = s.store.Ingest(st)
	case transport.TypeChatMsg:
		if env.Chat == nil {
			return
		}
		if _, err := s.chat.Append(context.Background(), env.RoomID, *env.Chat); err != nil {
			s.logger.Warn("session_chat_store_failed", zap.String("room_id", env.RoomID), zap.Error(err))
		}
		msg := *env.Chat
		s.emit(Update{Kind: UpdateChat, RoomID: env.RoomID, Chat: &msg})
	case transport.TypeError:
		if env.Ref == transport.TypeMoveSAN {
			s.store.RejectPending(env.RoomID, env.SAN)
		}
		s.emit(Update{Kind: UpdateRejected, RoomID: env.RoomID, Ref: env.Ref, Err: transport.ErrorFor(env)})
	default:
		s.logger.Debug("session_unknown_frame", zap.String("t", env.T))
	}
}

// onChange runs after every accepted ingest.
func (s *Session) onChange(c room.Change) {
	prevLen := 0
	if c.Prev != nil {
		prevLen = len(c.Prev.HistorySAN)
	}
	s.cursor.Follow(prevLen, len(c.Next.HistorySAN))

	ctx := context.Background()
	if err := kv.SetJSON(ctx, s.kv, KeyLastRoomState, c.Next, 0); err != nil {
		s.logger.Warn("session_state_persist_failed", zap.String("room_id", c.RoomID), zap.Error(err))
	}

	change := c
	s.emit(Update{Kind: UpdateState, RoomID: c.RoomID, Change: &change})

	if s.pipeline == nil || !finishedNow(c) {
		return
	}
	rec, wrote, err := s.pipeline.Archive(ctx, c.Next)
	switch {
	case err != nil:
		s.emit(Update{Kind: UpdateArchiveError, RoomID: c.RoomID, Err: err})
	case wrote:
		s.emit(Update{Kind: UpdateArchived, RoomID: c.RoomID, Record: rec})
	}
}

// finishedNow reports whether c is the edge into a result. Later snapshots of
// the same finished game, such as members leaving, are not.
func finishedNow(c room.Change) bool {
	if !c.Next.Terminal() {
		return false
	}
	if c.Prev == nil || !c.Prev.Terminal() {
		return true
	}
	return !sameInt64(c.Prev.StartedAt, c.Next.StartedAt)
}

func sameInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
