package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/hub"
	"github.com/findit-game/findit-server/internal/protocol"
	"github.com/findit-game/findit-server/internal/room"
)

// easyCatalog has one "easy" round with two answer rectangles.
func easyCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	content := "100,100\n0,0,10,10\n20,20,10,10\n"
	if err := os.WriteFile(filepath.Join(dir, "easy_1.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.New(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

type fixture struct {
	srv   *Server
	store *account.Memory
	ctx   context.Context
}

func newFixture(t *testing.T, cat *catalog.Catalog) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := account.NewMemory()
	h := hub.New(ctx, cat, store, room.Config{NextRoundDelay: 30 * time.Millisecond}, zap.NewNop())
	srv := New(":0", h, cat, store, 30*time.Millisecond, zap.NewNop())
	return &fixture{srv: srv, store: store, ctx: ctx}
}

// testClient talks to a handler goroutine over an in-memory pipe, with a
// pump goroutine so receives never block the server's writes.
type testClient struct {
	mc protocol.MessageConn
	in chan protocol.Packet
}

func (f *fixture) connect(t *testing.T) *testClient {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	go f.srv.HandleConn(f.ctx, protocol.NewConn(serverSide))

	c := &testClient{
		mc: protocol.NewConn(clientSide),
		in: make(chan protocol.Packet, 32),
	}
	go func() {
		for {
			p, err := c.mc.ReadPacket()
			if err != nil {
				close(c.in)
				return
			}
			c.in <- p
		}
	}()
	t.Cleanup(func() { c.mc.Close() })
	return c
}

func (c *testClient) send(t *testing.T, p protocol.Packet) {
	t.Helper()
	if err := c.mc.WritePacket(p); err != nil {
		t.Fatalf("send %s: %v", p.Kind(), err)
	}
}

func recv(t *testing.T, c *testClient, within time.Duration) protocol.Packet {
	t.Helper()
	select {
	case p, ok := <-c.in:
		if !ok {
			t.Fatalf("connection closed while expecting a packet")
		}
		return p
	case <-time.After(within):
		t.Fatalf("timed out waiting for packet")
		return nil // unreachable
	}
}

// recvKind discards packets until one of the wanted kind arrives.
func recvKind(t *testing.T, c *testClient, kind protocol.Kind, within time.Duration) protocol.Packet {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case p, ok := <-c.in:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", kind)
			}
			if p.Kind() == kind {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}


// awaitReady waits until a LOBBY_UPDATE shows name as ready, so a start
// request sent on another connection cannot overtake the ready flag.
func awaitReady(t *testing.T, c *testClient, name string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case p, ok := <-c.in:
			if !ok {
				t.Fatalf("connection closed while waiting for ready state")
			}
			if lu, isLobby := p.(protocol.LobbyUpdate); isLobby && lu.Ready[name] {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to be ready", name)
		}
	}
}

func TestSinglePlayer_FullGame(t *testing.T) {
	f := newFixture(t, easyCatalog(t))
	c := f.connect(t)

	c.send(t, protocol.Join{Sender: "solo", Room: "single:easy"})

	rs := recvKind(t, c, protocol.KindRoundStart, time.Second).(protocol.RoundStart)
	if rs.Round != 1 || len(rs.Rects) != 2 || rs.PlayerIndex["solo"] != 0 {
		t.Fatalf("bad round start: %+v", rs)
	}
	score := recvKind(t, c, protocol.KindScore, time.Second).(protocol.Score)
	if score.Scores["solo"] != 0 {
		t.Fatalf("want zero opening score, got %+v", score.Scores)
	}

	c.send(t, protocol.Click{AnswerIndex: 0})
	res := recvKind(t, c, protocol.KindResult, time.Second).(protocol.Result)
	if !res.Correct {
		t.Fatalf("first claim must be correct")
	}

	// Duplicate claim is an ordinary incorrect answer.
	c.send(t, protocol.Click{AnswerIndex: 0})
	res = recvKind(t, c, protocol.KindResult, time.Second).(protocol.Result)
	if res.Correct {
		t.Fatalf("duplicate claim must be incorrect")
	}

	// Last rectangle: round done, single round means game over.
	c.send(t, protocol.Click{AnswerIndex: 1})
	res = recvKind(t, c, protocol.KindResult, time.Second).(protocol.Result)
	if !res.Correct {
		t.Fatalf("second rectangle must be claimable")
	}
	recvKind(t, c, protocol.KindGameOver, time.Second)

	wantExp := 2*room.CorrectPoints - room.WrongPenalty
	for i := 0; ; i++ {
		if f.store.Experience("solo") == wantExp {
			break
		}
		if i > 100 {
			t.Fatalf("want %d exp, got %d", wantExp, f.store.Experience("solo"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSinglePlayer_TimerEndAdvancesRound(t *testing.T) {
	cat, err := catalog.New("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, cat)
	c := f.connect(t)

	c.send(t, protocol.Join{Sender: "solo", Room: "single:"})
	rs := recvKind(t, c, protocol.KindRoundStart, time.Second).(protocol.RoundStart)
	if rs.Round != 1 {
		t.Fatalf("want round 1, got %+v", rs)
	}

	c.send(t, protocol.TimerEnd{})
	rs = recvKind(t, c, protocol.KindRoundStart, time.Second).(protocol.RoundStart)
	if rs.Round != 2 {
		t.Fatalf("want round 2 after timer end, got %+v", rs)
	}
}

func TestJoin_DuplicateNameRejectedThenReleased(t *testing.T) {
	f := newFixture(t, easyCatalog(t))

	c1 := f.connect(t)
	c1.send(t, protocol.Join{Sender: "A", Room: "single:easy"})
	recvKind(t, c1, protocol.KindRoundStart, time.Second)

	c2 := f.connect(t)
	c2.send(t, protocol.Join{Sender: "A", Room: "001"})
	msg := recvKind(t, c2, protocol.KindMessage, time.Second).(protocol.Message)
	if msg.Text == "" {
		t.Fatalf("rejection must say why")
	}
	if _, ok := <-c2.in; ok {
		t.Fatalf("rejected connection must be closed")
	}

	// Disconnect releases the name for reuse.
	c1.mc.Close()
	deadline := time.After(2 * time.Second)
	for {
		c3 := f.connect(t)
		c3.send(t, protocol.Join{Sender: "A", Room: "001"})
		p := recv(t, c3, time.Second)
		if p.Kind() == protocol.KindLobbyUpdate {
			return
		}
		c3.mc.Close()
		select {
		case <-deadline:
			t.Fatalf("name never released after disconnect")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRoomFlow_TwoPlayersRaceOnOneAnswer(t *testing.T) {
	f := newFixture(t, easyCatalog(t))

	a := f.connect(t)
	a.send(t, protocol.Join{Sender: "A", Room: "001"})
	recvKind(t, a, protocol.KindLobbyUpdate, time.Second)

	b := f.connect(t)
	b.send(t, protocol.Join{Sender: "B", Room: "001"})
	recvKind(t, b, protocol.KindLobbyUpdate, time.Second)

	b.send(t, protocol.ReadyStatus{IsReady: true})
	awaitReady(t, a, "B", time.Second)
	a.send(t, protocol.StartGameRequest{Difficulty: "easy", GameMode: "coop"})

	rs := recvKind(t, a, protocol.KindRoundStart, time.Second).(protocol.RoundStart)
	if rs.Round != 1 || rs.GameMode != "coop" || len(rs.PlayerIndex) != 2 {
		t.Fatalf("bad round start: %+v", rs)
	}
	recvKind(t, b, protocol.KindRoundStart, time.Second)

	// Both clients claim the same rectangle; the room serializes the two
	// clicks and the catalog guarantees a single winner.
	a.send(t, protocol.Click{AnswerIndex: 0})
	b.send(t, protocol.Click{AnswerIndex: 0})

	correct := 0
	for i := 0; i < 2; i++ {
		res := recvKind(t, a, protocol.KindResult, time.Second).(protocol.Result)
		if res.AnswerIndex != 0 {
			t.Fatalf("unexpected result index: %+v", res)
		}
		if res.Correct {
			correct++
		}
	}
	if correct != 1 {
		t.Fatalf("exactly one of the racing clicks may win, got %d", correct)
	}

	score := recvKind(t, a, protocol.KindScore, time.Second).(protocol.Score)
	total := score.Scores["A"] + score.Scores["B"]
	if total != room.CorrectPoints-room.WrongPenalty {
		t.Fatalf("want combined score %d, got %+v", room.CorrectPoints-room.WrongPenalty, score.Scores)
	}

	// Chat relays in-game.
	b.send(t, protocol.Message{Text: "nice one"})
	msg := recvKind(t, a, protocol.KindMessage, time.Second).(protocol.Message)
	if msg.Sender != "B" || msg.Text != "nice one" {
		t.Fatalf("bad chat relay: %+v", msg)
	}
}

func TestJoin_MidGameIsRejected(t *testing.T) {
	f := newFixture(t, easyCatalog(t))

	a := f.connect(t)
	a.send(t, protocol.Join{Sender: "A", Room: "001"})
	b := f.connect(t)
	b.send(t, protocol.Join{Sender: "B", Room: "001"})
	recvKind(t, b, protocol.KindLobbyUpdate, time.Second)

	b.send(t, protocol.ReadyStatus{IsReady: true})
	awaitReady(t, a, "B", time.Second)
	a.send(t, protocol.StartGameRequest{Difficulty: "easy"})
	recvKind(t, a, protocol.KindRoundStart, time.Second)

	c := f.connect(t)
	c.send(t, protocol.Join{Sender: "C", Room: "001"})
	msg := recvKind(t, c, protocol.KindMessage, time.Second).(protocol.Message)
	if msg.Text == "" {
		t.Fatalf("mid-game join rejection must carry a reason")
	}
	if _, ok := <-c.in; ok {
		t.Fatalf("rejected connection must be closed")
	}
}

func TestDisconnect_MidGameAnnouncedToSurvivors(t *testing.T) {
	f := newFixture(t, easyCatalog(t))

	a := f.connect(t)
	a.send(t, protocol.Join{Sender: "A", Room: "001"})
	b := f.connect(t)
	b.send(t, protocol.Join{Sender: "B", Room: "001"})
	recvKind(t, b, protocol.KindLobbyUpdate, time.Second)

	b.send(t, protocol.ReadyStatus{IsReady: true})
	awaitReady(t, a, "B", time.Second)
	a.send(t, protocol.StartGameRequest{Difficulty: "easy"})
	recvKind(t, a, protocol.KindRoundStart, time.Second)
	recvKind(t, b, protocol.KindRoundStart, time.Second)

	b.mc.Close()

	msg := recvKind(t, a, protocol.KindMessage, time.Second).(protocol.Message)
	if msg.Text == "" {
		t.Fatalf("departure must be announced")
	}
	score := recvKind(t, a, protocol.KindScore, time.Second).(protocol.Score)
	if _, still := score.Scores["B"]; still {
		t.Fatalf("B must be off the scoreboard: %+v", score.Scores)
	}
}
