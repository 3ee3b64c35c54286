package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/protocol"
	"github.com/findit-game/findit-server/internal/room"
)

func newHub(t *testing.T) *Hub {
	t.Helper()
	cat, err := catalog.New("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, cat, account.NewMemory(), room.Config{}, zap.NewNop())
}

func TestHub_EnsureThenGet_SamePointer(t *testing.T) {
	h := newHub(t)
	reply := make(chan *room.Room, 1)

	h.Inbox() <- EnsureRoom{Name: "001", Reply: reply}
	rm1 := <-reply

	h.Inbox() <- GetRoom{Name: "001", Reply: reply}
	rm2 := <-reply

	if rm1 == nil || rm1 != rm2 {
		t.Fatalf("expected same room pointer")
	}
}

func TestHub_NameReservation(t *testing.T) {
	h := newHub(t)
	reply := make(chan bool, 1)

	h.Inbox() <- ReserveName{Name: "A", Reply: reply}
	if !<-reply {
		t.Fatalf("first reservation must succeed")
	}
	h.Inbox() <- ReserveName{Name: "A", Reply: reply}
	if <-reply {
		t.Fatalf("duplicate reservation must fail")
	}

	h.Inbox() <- ReleaseName{Name: "A"}
	h.Inbox() <- ReserveName{Name: "A", Reply: reply}
	if !<-reply {
		t.Fatalf("released name must be reusable")
	}
}

func TestHub_EmptyRoomIsRemoved_FreshRoomOnRejoin(t *testing.T) {
	h := newHub(t)
	reply := make(chan *room.Room, 1)

	h.Inbox() <- EnsureRoom{Name: "001", Reply: reply}
	rm := <-reply

	out := make(chan protocol.Packet, 4)
	errCh := make(chan error, 1)
	rm.Inbox() <- room.Join{Name: "A", Outbox: out, Reply: errCh}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	rm.Inbox() <- room.Leave{Name: "A"}

	// The room posts its own removal; poll until the registry has dropped it.
	deadline := time.After(2 * time.Second)
	for {
		h.Inbox() <- GetRoom{Name: "001", Reply: reply}
		if got := <-reply; got == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("empty room never removed from registry")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A rejoin under the same name yields a fresh room in LOBBY.
	h.Inbox() <- EnsureRoom{Name: "001", Reply: reply}
	fresh := <-reply
	if fresh == rm {
		t.Fatalf("want a fresh room after removal")
	}
	view := make(chan room.View, 1)
	fresh.Inbox() <- room.GetState{Reply: view}
	if v := <-view; v.State != room.StateLobby {
		t.Fatalf("fresh room must start in lobby, got %v", v.State)
	}
}

func TestHub_StaleRemoveDoesNotDropFreshRoom(t *testing.T) {
	h := newHub(t)
	reply := make(chan *room.Room, 1)

	h.Inbox() <- EnsureRoom{Name: "001", Reply: reply}
	stale := <-reply

	// Simulate the empty signal arriving after the name was rebound.
	h.Inbox() <- RemoveRoom{Name: "001", Room: nil}
	h.Inbox() <- GetRoom{Name: "001", Reply: reply}
	if got := <-reply; got != stale {
		t.Fatalf("remove with mismatched pointer must be ignored")
	}
}
