// Package hub is the server-wide registry: it owns the room-name → Room map
// and the set of player names currently connected. Like a Room, the Hub is
// a single-threaded actor, so get-or-create and name reservation are atomic
// without locks.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/room"
)

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the room with the given name, creating it on first join.
type EnsureRoom struct {
	Name  string
	Reply chan *room.Room
}

type GetRoom struct {
	Name  string
	Reply chan *room.Room
}

// RemoveRoom drops the mapping only while it still points at Room, so a
// name reused by a fresh room is never removed by a stale empty signal.
type RemoveRoom struct {
	Name string
	Room *room.Room
}

// ReserveName claims a player name server-wide; the reply reports whether
// the name was free. Reservations are released on disconnect.
type ReserveName struct {
	Name  string
	Reply chan bool
}

type ReleaseName struct{ Name string }

type ListRooms struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ReserveName) isHubMsg() {}
func (ReleaseName) isHubMsg() {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox    chan HubMsg
	rooms    map[string]*room.Room
	names    map[string]bool
	cat      *catalog.Catalog
	accounts account.Store
	roomCfg  room.Config
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(parent context.Context, cat *catalog.Catalog, accounts account.Store, roomCfg room.Config, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		rooms:    make(map[string]*room.Room),
		names:    make(map[string]bool),
		cat:      cat,
		accounts: accounts,
		roomCfg:  roomCfg,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				msg.Reply <- h.ensure(msg.Name)

			case GetRoom:
				msg.Reply <- h.rooms[msg.Name] // may be nil

			case RemoveRoom:
				if h.rooms[msg.Name] == msg.Room {
					delete(h.rooms, msg.Name)
					h.log.Info("room removed", zap.String("room", msg.Name))
				}

			case ReserveName:
				if h.names[msg.Name] {
					msg.Reply <- false
					break
				}
				h.names[msg.Name] = true
				msg.Reply <- true

			case ReleaseName:
				delete(h.names, msg.Name)

			case ListRooms:
				names := make([]string, 0, len(h.rooms))
				for name := range h.rooms {
					names = append(names, name)
				}
				msg.Reply <- names

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) ensure(name string) *room.Room {
	if rm := h.rooms[name]; rm != nil {
		return rm
	}

	cfg := h.roomCfg
	var rm *room.Room
	cfg.OnEmpty = func() {
		// Runs on the room goroutine; the pointer guard in RemoveRoom
		// keeps a later room under the same name safe.
		select {
		case h.inbox <- RemoveRoom{Name: name, Room: rm}:
		case <-h.ctx.Done():
		}
	}
	rm = room.New(h.ctx, name, h.cat, h.accounts, cfg, h.log)
	h.rooms[name] = rm
	h.log.Info("room created", zap.String("room", name))
	return rm
}

func (h *Hub) shutdown() {
	for _, rm := range h.rooms {
		select {
		case rm.Inbox() <- room.Shutdown{}:
		default:
		}
	}
	clear(h.rooms)
	clear(h.names)
	h.cancel()
}
