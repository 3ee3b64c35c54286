// Package server accepts TCP connections and runs one handler goroutine per
// connection. A handler reads exactly one JOIN, reserves the player name
// server-wide, then either joins a Room or runs the single-player round
// machine directly; afterwards it forwards every inbound packet to its
// owning state machine until the socket dies.
package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/hub"
	"github.com/findit-game/findit-server/internal/protocol"
	"github.com/findit-game/findit-server/internal/room"
)

// SinglePrefix marks a JOIN as single-player; the remainder of the room
// string is the requested difficulty.
const SinglePrefix = "single:"

const outboxSize = 64

type Server struct {
	addr           string
	hub            *hub.Hub
	cat            *catalog.Catalog
	accounts       account.Store
	nextRoundDelay time.Duration
	log            *zap.Logger
}

func New(addr string, h *hub.Hub, cat *catalog.Catalog, accounts account.Store, nextRoundDelay time.Duration, log *zap.Logger) *Server {
	if nextRoundDelay <= 0 {
		nextRoundDelay = 5 * time.Second
	}
	return &Server{
		addr:           addr,
		hub:            h,
		cat:            cat,
		accounts:       accounts,
		nextRoundDelay: nextRoundDelay,
		log:            log,
	}
}

// Run listens on the configured address until ctx is cancelled. Handlers are
// spawned unbounded, one goroutine per connection.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("game server listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}
		go s.HandleConn(ctx, protocol.NewConn(conn))
	}
}

// HandleConn drives one client session to completion. It is exported so the
// WebSocket transport can feed connections through the identical path.
func (s *Server) HandleConn(ctx context.Context, mc protocol.MessageConn) {
	log := s.log.With(
		zap.String("conn", uuid.NewString()),
		zap.String("remote", mc.RemoteAddr()))
	defer mc.Close()

	join, ok := s.readJoin(mc, log)
	if !ok {
		return
	}

	reply := make(chan bool, 1)
	s.hub.Inbox() <- hub.ReserveName{Name: join.Sender, Reply: reply}
	if !<-reply {
		_ = mc.WritePacket(protocol.Message{
			Text: "name " + join.Sender + " is already in use",
		})
		log.Info("join rejected, duplicate name", zap.String("player", join.Sender))
		return
	}
	defer func() { s.hub.Inbox() <- hub.ReleaseName{Name: join.Sender} }()

	if difficulty, single := strings.CutPrefix(join.Room, SinglePrefix); single {
		s.runSingle(mc, join.Sender, difficulty, log)
		return
	}
	s.runMultiplayer(ctx, mc, join, log)
}

func (s *Server) readJoin(mc protocol.MessageConn, log *zap.Logger) (protocol.Join, bool) {
	for {
		p, err := mc.ReadPacket()
		if err != nil {
			if protocol.IsDecodeError(err) {
				log.Info("bad packet before join", zap.Error(err))
				continue
			}
			return protocol.Join{}, false
		}
		join, ok := p.(protocol.Join)
		if !ok {
			log.Info("expected JOIN", zap.String("kind", string(p.Kind())))
			continue
		}
		if join.Sender == "" {
			_ = mc.WritePacket(protocol.Message{Text: "a player name is required"})
			return protocol.Join{}, false
		}
		return join, true
	}
}

func (s *Server) runMultiplayer(ctx context.Context, mc protocol.MessageConn, join protocol.Join, log *zap.Logger) {
	log = log.With(zap.String("player", join.Sender), zap.String("room", join.Room))

	rm, out, err := s.joinRoom(join)
	if err != nil {
		_ = mc.WritePacket(protocol.Message{Text: "join rejected: " + err.Error()})
		log.Info("room join rejected", zap.Error(err))
		return
	}
	log.Info("joined room")

	// Single write path: this goroutine drains the outbox until the room
	// closes it (leave, stalled-client drop, or room shutdown).
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for p := range out {
			if err := mc.WritePacket(p); err != nil {
				return
			}
		}
	}()

	defer func() {
		select {
		case rm.Inbox() <- room.Leave{Name: join.Sender}:
		case <-rm.Done():
		}
		select {
		case <-writeDone:
		case <-time.After(time.Second):
		}
		log.Info("disconnected")
	}()

	for {
		p, err := mc.ReadPacket()
		if err != nil {
			if protocol.IsDecodeError(err) {
				log.Info("bad packet dropped", zap.Error(err))
				continue
			}
			return
		}
		msg, ok := toRoomMsg(join.Sender, p)
		if !ok {
			log.Debug("unroutable packet dropped", zap.String("kind", string(p.Kind())))
			continue
		}
		select {
		case rm.Inbox() <- msg:
		case <-rm.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// joinRoom resolves the room and registers the player, retrying when the
// room empties out between lookup and join. A fresh outbox is allocated per
// attempt: a dying room may have registered and closed the previous one.
func (s *Server) joinRoom(join protocol.Join) (*room.Room, chan protocol.Packet, error) {
	for attempt := 0; attempt < 3; attempt++ {
		reply := make(chan *room.Room, 1)
		s.hub.Inbox() <- hub.EnsureRoom{Name: join.Room, Reply: reply}
		rm := <-reply

		out := make(chan protocol.Packet, outboxSize)
		errCh := make(chan error, 1)
		select {
		case rm.Inbox() <- room.Join{Name: join.Sender, Outbox: out, Reply: errCh}:
		case <-rm.Done():
			continue
		}
		select {
		case err := <-errCh:
			if err != nil {
				return nil, nil, err
			}
			return rm, out, nil
		case <-rm.Done():
			continue
		}
	}
	return nil, nil, errors.New("room is unavailable")
}

// toRoomMsg maps an inbound packet onto a room message. The sender field is
// always the name established at JOIN; whatever the client wrote is ignored.
func toRoomMsg(name string, p protocol.Packet) (room.Msg, bool) {
	switch pkt := p.(type) {
	case protocol.ReadyStatus:
		return room.Ready{Name: name, IsReady: pkt.IsReady}, true
	case protocol.SettingsUpdate:
		return room.UpdateSettings{Name: name, Difficulty: pkt.Difficulty, GameMode: pkt.GameMode}, true
	case protocol.StartGameRequest:
		return room.StartGame{Name: name, Difficulty: pkt.Difficulty, GameMode: pkt.GameMode}, true
	case protocol.Click:
		return room.Click{Name: name, Index: pkt.AnswerIndex}, true
	case protocol.TimerEnd:
		return room.TimerEnd{Name: name}, true
	case protocol.Message:
		return room.Chat{Name: name, Text: pkt.Text}, true
	case protocol.MouseMove:
		pkt.Sender = name
		return room.MouseMove{Packet: pkt}, true
	default:
		return nil, false
	}
}
