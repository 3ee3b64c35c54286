package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/protocol"
	"github.com/findit-game/findit-server/internal/room"
)

// singleMode is the game-mode string reported in single-player ROUND_START
// packets.
const singleMode = "single"

// single is the degenerate one-player variant of the room round machine.
// There is no actor here; the reader goroutine and the round-transition
// timer share the session under one mutex, and the connection's own write
// lock serializes their packets onto the wire.
type single struct {
	mu         sync.Mutex
	mc         protocol.MessageConn
	name       string
	difficulty string
	round      int
	score      int
	pending    bool
	finished   bool
	closed     bool
	gen        int

	cat      *catalog.Catalog
	accounts account.Store
	delay    time.Duration
	log      *zap.Logger
}

func (s *Server) runSingle(mc protocol.MessageConn, name, difficulty string, log *zap.Logger) {
	if difficulty == "" {
		difficulty = room.DefaultDifficulty
	}
	sess := &single{
		mc:         mc,
		name:       name,
		difficulty: difficulty,
		cat:        s.cat,
		accounts:   s.accounts,
		delay:      s.nextRoundDelay,
		log:        log.With(zap.String("player", name), zap.String("difficulty", difficulty)),
	}
	sess.log.Info("single-player session started")
	sess.start()
	defer sess.close()

	for {
		p, err := mc.ReadPacket()
		if err != nil {
			if protocol.IsDecodeError(err) {
				sess.log.Info("bad packet dropped", zap.Error(err))
				continue
			}
			sess.log.Info("disconnected")
			return
		}
		switch pkt := p.(type) {
		case protocol.Click:
			sess.click(pkt.AnswerIndex)
		case protocol.TimerEnd:
			sess.timerEnd()
		default:
			sess.log.Debug("packet dropped in single-player",
				zap.String("kind", string(p.Kind())))
		}
	}
}

func (s *single) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = 1
	s.cat.LoadRound(s.difficulty, s.round)
	s.sendRoundStart()
	s.sendScore()
}

func (s *single) click(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.round == 0 {
		return
	}

	correct := s.cat.CheckAnswer(s.difficulty, s.round, index)
	if correct {
		s.score += room.CorrectPoints
	} else {
		s.score -= room.WrongPenalty
	}
	s.send(protocol.Result{Sender: s.name, AnswerIndex: index, Correct: correct})
	s.sendScore()

	if correct && s.cat.AreAllFound(s.difficulty, s.round) {
		s.complete()
	}
}

func (s *single) timerEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.round == 0 {
		return
	}
	s.complete()
}

// complete requires s.mu held.
func (s *single) complete() {
	if s.pending {
		return
	}
	if !s.cat.HasNextRound(s.difficulty, s.round) {
		s.gameOver()
		return
	}

	s.send(protocol.Message{
		Text: fmt.Sprintf("Round %d complete! Next round starts shortly.", s.round),
	})
	s.pending = true
	s.gen++
	gen := s.gen
	time.AfterFunc(s.delay, func() { s.advance(gen) })
}

func (s *single) advance(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed || s.finished {
		return
	}
	s.pending = false
	s.round++
	s.cat.LoadRound(s.difficulty, s.round)
	s.sendRoundStart()
	s.sendScore()
}

// gameOver requires s.mu held.
func (s *single) gameOver() {
	s.send(protocol.GameOver{
		Message: fmt.Sprintf("Game over! Final score: %d", s.score),
	})
	s.finished = true
	s.round = 0

	if s.score > 0 {
		name, score := s.name, s.score
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.accounts.AddExperience(ctx, name, score); err != nil {
				s.log.Warn("experience award failed", zap.Error(err))
			}
		}()
	}
}

func (s *single) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gen++
}

// sendRoundStart requires s.mu held.
func (s *single) sendRoundStart() {
	s.send(protocol.RoundStart{
		Round:       s.round,
		ImagePath:   s.cat.ImagePath(s.difficulty, s.round),
		Rects:       s.cat.Rects(s.difficulty, s.round),
		Dimension:   s.cat.OriginalDimension(s.difficulty, s.round),
		PlayerIndex: map[string]int{s.name: 0},
		GameMode:    singleMode,
	})
}

func (s *single) sendScore() {
	s.send(protocol.Score{
		Text:   fmt.Sprintf("%s : %d", s.name, s.score),
		Scores: map[string]int{s.name: s.score},
	})
}

func (s *single) send(p protocol.Packet) {
	if err := s.mc.WritePacket(p); err != nil {
		s.log.Debug("write failed", zap.Error(err))
	}
}
