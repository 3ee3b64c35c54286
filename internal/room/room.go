// Package room implements the authoritative state machine for one named
// multiplayer session. A Room is a single-threaded actor: all roster, score,
// and round mutation happens on its own goroutine, and connection handlers
// only produce messages onto its inbox. The deferred round transition posts
// an advanceRound message back into the same inbox, so the timer can never
// race packet handling.
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/protocol"
)

type State string

const (
	StateLobby  State = "LOBBY"
	StateInGame State = "IN_GAME"
)

const (
	ModeCoop        = "coop"
	ModeCompetitive = "competitive"

	DefaultDifficulty = "normal"
)

// Score deltas, shared with the single-player path.
const (
	CorrectPoints = 10
	WrongPenalty  = 5
)

var (
	ErrNameTaken      = errors.New("name already in use in this room")
	ErrGameInProgress = errors.New("game already started")
)

type Msg interface{ isRoomMsg() }

// Join registers a player. The reply carries nil on success or the
// rejection reason; on rejection the room takes no ownership of Outbox.
type Join struct {
	Name   string
	Outbox chan protocol.Packet
	Reply  chan error
}

type Leave struct{ Name string }

type Ready struct {
	Name    string
	IsReady bool
}

type UpdateSettings struct {
	Name       string
	Difficulty string
	GameMode   string
}

type StartGame struct {
	Name       string
	Difficulty string
	GameMode   string
}

type Click struct {
	Name  string
	Index int
}

type TimerEnd struct{ Name string }

type Chat struct {
	Name string
	Text string
}

type MouseMove struct{ Packet protocol.MouseMove }

// advanceRound is posted by the round-transition timer. Gen guards against
// stale fires after a game ended or a new timer was armed.
type advanceRound struct{ gen int }

// GetState reflects internal state without data races; test-only.
type GetState struct{ Reply chan View }

type Shutdown struct{}

func (Join) isRoomMsg()           {}
func (Leave) isRoomMsg()          {}
func (Ready) isRoomMsg()          {}
func (UpdateSettings) isRoomMsg() {}
func (StartGame) isRoomMsg()      {}
func (Click) isRoomMsg()          {}
func (TimerEnd) isRoomMsg()       {}
func (Chat) isRoomMsg()           {}
func (MouseMove) isRoomMsg()      {}
func (advanceRound) isRoomMsg()   {}
func (GetState) isRoomMsg()       {}
func (Shutdown) isRoomMsg()       {}

type View struct {
	State        State
	Host         string
	Difficulty   string
	GameMode     string
	CurrentRound int
	Ready        map[string]bool
	Scores       map[string]int
}

// Config carries the knobs the registry injects at construction.
type Config struct {
	MinPlayers     int
	NextRoundDelay time.Duration
	// OnEmpty is called (from the room goroutine) when the last player
	// leaves, right before the room stops.
	OnEmpty func()
}

type Room struct {
	name     string
	inbox    chan Msg
	cat      *catalog.Catalog
	accounts account.Store
	log      *zap.Logger
	cfg      Config

	state        State
	host         string
	difficulty   string
	mode         string
	currentRound int
	members      map[string]chan protocol.Packet
	ready        map[string]bool
	scores       map[string]int

	timerGen       int
	advancePending bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, name string, cat *catalog.Catalog, accounts account.Store, cfg Config, log *zap.Logger) *Room {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = 2
	}
	if cfg.NextRoundDelay <= 0 {
		cfg.NextRoundDelay = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		name:       name,
		inbox:      make(chan Msg, 64),
		cat:        cat,
		accounts:   accounts,
		log:        log.With(zap.String("room", name)),
		cfg:        cfg,
		state:      StateLobby,
		difficulty: DefaultDifficulty,
		mode:       ModeCoop,
		members:    make(map[string]chan protocol.Packet),
		ready:      make(map[string]bool),
		scores:     make(map[string]int),
		ctx:        ctx,
		cancel:     cancel,
	}
	go r.loop()
	return r
}

func (r *Room) Name() string { return r.name }

func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has stopped; senders should select on it so
// a message aimed at a dead room cannot block forever.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- r.handleJoin(msg)
			case Leave:
				if r.handleLeave(msg.Name) {
					return
				}
			case Ready:
				r.handleReady(msg)
			case UpdateSettings:
				r.handleSettings(msg)
			case StartGame:
				r.handleStart(msg)
			case Click:
				r.handleClick(msg)
			case TimerEnd:
				r.handleTimerEnd(msg)
			case Chat:
				r.broadcast(protocol.Message{Sender: msg.Name, Text: msg.Text})
			case MouseMove:
				if r.state == StateInGame {
					r.broadcast(msg.Packet)
				} else {
					r.drop("MOUSE_MOVE", msg.Packet.Sender)
				}
			case advanceRound:
				r.handleAdvance(msg)
			case GetState:
				msg.Reply <- View{
					State:        r.state,
					Host:         r.host,
					Difficulty:   r.difficulty,
					GameMode:     r.mode,
					CurrentRound: r.currentRound,
					Ready:        copyBools(r.ready),
					Scores:       copyInts(r.scores),
				}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) error {
	if r.state != StateLobby {
		return ErrGameInProgress
	}
	if _, taken := r.members[msg.Name]; taken {
		return ErrNameTaken
	}

	r.members[msg.Name] = msg.Outbox
	r.ready[msg.Name] = false
	r.scores[msg.Name] = 0
	if r.host == "" {
		r.host = msg.Name
	}
	r.log.Info("player joined", zap.String("player", msg.Name))
	r.broadcastLobby()
	return nil
}

// handleLeave reports true when the roster emptied and the room stopped.
func (r *Room) handleLeave(name string) bool {
	ch, ok := r.members[name]
	if !ok {
		return false
	}
	delete(r.members, name)
	delete(r.ready, name)
	delete(r.scores, name)
	close(ch)
	r.log.Info("player left", zap.String("player", name))

	if len(r.members) == 0 {
		r.host = ""
		if r.cfg.OnEmpty != nil {
			r.cfg.OnEmpty()
		}
		r.cancel()
		return true
	}

	if r.host == name {
		r.host = r.anyMember()
		r.log.Info("host migrated", zap.String("host", r.host))
	}

	if r.state == StateLobby {
		r.broadcastLobby()
	} else {
		r.broadcast(protocol.Message{Text: name + " left the game."})
		r.broadcastScore()
	}
	return false
}

func (r *Room) handleReady(msg Ready) {
	if r.state != StateLobby {
		r.drop("READY_STATUS", msg.Name)
		return
	}
	if _, ok := r.members[msg.Name]; !ok {
		return
	}
	r.ready[msg.Name] = msg.IsReady
	r.broadcastLobby()
}

func (r *Room) handleSettings(msg UpdateSettings) {
	if r.state != StateLobby || msg.Name != r.host {
		r.drop("SETTINGS_UPDATE", msg.Name)
		return
	}
	r.difficulty = msg.Difficulty
	r.mode = msg.GameMode
	r.broadcastLobby()
}

func (r *Room) handleStart(msg StartGame) {
	if r.state != StateLobby {
		r.drop("START_GAME_REQUEST", msg.Name)
		return
	}
	if msg.Name != r.host {
		r.sendTo(msg.Name, protocol.Message{Text: "Only the host can start the game."})
		return
	}
	if len(r.members) < r.cfg.MinPlayers {
		r.sendTo(msg.Name, protocol.Message{
			Text: fmt.Sprintf("Need at least %d players to start.", r.cfg.MinPlayers),
		})
		return
	}
	for name, ok := range r.ready {
		if name != r.host && !ok {
			r.sendTo(msg.Name, protocol.Message{Text: "All players must be ready."})
			return
		}
	}

	if msg.Difficulty != "" {
		r.difficulty = msg.Difficulty
	}
	if msg.GameMode != "" {
		r.mode = msg.GameMode
	}
	r.currentRound = 1
	r.cat.LoadRound(r.difficulty, r.currentRound)
	r.state = StateInGame
	for name := range r.scores {
		r.scores[name] = 0
	}
	r.log.Info("game started",
		zap.String("difficulty", r.difficulty),
		zap.String("mode", r.mode))
	r.broadcastRoundStart()
	r.broadcastScore()
}

func (r *Room) handleClick(msg Click) {
	if r.state != StateInGame {
		r.drop("CLICK", msg.Name)
		return
	}
	if _, ok := r.members[msg.Name]; !ok {
		return
	}

	correct := r.cat.CheckAnswer(r.difficulty, r.currentRound, msg.Index)
	if correct {
		r.scores[msg.Name] += CorrectPoints
	} else {
		r.scores[msg.Name] -= WrongPenalty
	}
	r.broadcast(protocol.Result{
		Sender:      msg.Name,
		AnswerIndex: msg.Index,
		Correct:     correct,
	})
	r.broadcastScore()

	if correct && r.cat.AreAllFound(r.difficulty, r.currentRound) {
		r.completeRound()
	}
}

func (r *Room) handleTimerEnd(msg TimerEnd) {
	if r.state != StateInGame {
		r.drop("TIMER_END", msg.Name)
		return
	}
	r.completeRound()
}

func (r *Room) completeRound() {
	if r.advancePending {
		return
	}
	if !r.cat.HasNextRound(r.difficulty, r.currentRound) {
		r.gameOver()
		return
	}

	r.broadcast(protocol.Message{
		Text: fmt.Sprintf("Round %d complete! Next round starts shortly.", r.currentRound),
	})
	r.advancePending = true
	r.timerGen++
	gen := r.timerGen
	time.AfterFunc(r.cfg.NextRoundDelay, func() {
		select {
		case r.inbox <- advanceRound{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) handleAdvance(msg advanceRound) {
	if msg.gen != r.timerGen || r.state != StateInGame {
		return
	}
	r.advancePending = false
	r.currentRound++
	r.cat.LoadRound(r.difficulty, r.currentRound)
	r.broadcastRoundStart()
	r.broadcastScore()
}

func (r *Room) gameOver() {
	winner, top := "", 0
	for name, score := range r.scores {
		if winner == "" || score > top {
			winner, top = name, score
		}
	}
	r.broadcast(protocol.GameOver{
		Message: fmt.Sprintf("Game over! Top score: %s (%d)", winner, top),
	})

	// Award experience off the actor goroutine; the store may hit a database.
	scores := copyInts(r.scores)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for name, score := range scores {
			if score <= 0 {
				continue
			}
			if err := r.accounts.AddExperience(ctx, name, score); err != nil {
				r.log.Warn("experience award failed",
					zap.String("player", name), zap.Error(err))
			}
		}
	}()

	r.state = StateLobby
	r.currentRound = 0
	r.advancePending = false
	r.timerGen++
	for name := range r.ready {
		r.ready[name] = false
	}
	r.broadcastLobby()
}

func (r *Room) broadcastRoundStart() {
	r.broadcast(protocol.RoundStart{
		Round:       r.currentRound,
		ImagePath:   r.cat.ImagePath(r.difficulty, r.currentRound),
		Rects:       r.cat.Rects(r.difficulty, r.currentRound),
		Dimension:   r.cat.OriginalDimension(r.difficulty, r.currentRound),
		PlayerIndex: r.playerIndex(),
		GameMode:    r.mode,
	})
}

// playerIndex assigns each roster member a stable cursor index for the
// current round; rebuilt on every round start so departures compact it.
func (r *Room) playerIndex() map[string]int {
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	idx := make(map[string]int, len(names))
	for i, name := range names {
		idx[name] = i
	}
	return idx
}

func (r *Room) broadcastLobby() {
	r.broadcast(protocol.LobbyUpdate{
		Host:       r.host,
		Ready:      copyBools(r.ready),
		Difficulty: r.difficulty,
		GameMode:   r.mode,
	})
}

func (r *Room) broadcastScore() {
	r.broadcast(protocol.Score{
		Text:   formatScoreboard(r.scores),
		Scores: copyInts(r.scores),
	})
}

// broadcast delivers p to every member outbox. A member whose outbox is
// full is removed the same way as a disconnect, so one stalled client
// never delays the rest of the room.
func (r *Room) broadcast(p protocol.Packet) {
	var stalled []string
	for name, ch := range r.members {
		select {
		case ch <- p:
		default:
			stalled = append(stalled, name)
		}
	}
	for _, name := range stalled {
		r.log.Warn("dropping stalled client", zap.String("player", name))
		r.handleLeave(name)
	}
}

func (r *Room) sendTo(name string, p protocol.Packet) {
	ch, ok := r.members[name]
	if !ok {
		return
	}
	select {
	case ch <- p:
	default:
	}
}

func (r *Room) anyMember() string {
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

func (r *Room) drop(kind, sender string) {
	r.log.Debug("packet dropped in current state",
		zap.String("kind", kind),
		zap.String("sender", sender),
		zap.String("state", string(r.state)))
}

func (r *Room) shutdown() {
	for name, ch := range r.members {
		close(ch)
		delete(r.members, name)
	}
	r.cancel()
}

func formatScoreboard(scores map[string]int) string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s : %d", name, scores[name])
	}
	return b.String()
}

func copyBools(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
