package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/findit-game/findit-server/internal/account"
	"github.com/findit-game/findit-server/internal/catalog"
	"github.com/findit-game/findit-server/internal/hub"
	"github.com/findit-game/findit-server/internal/room"
)

func TestRooms_ListsRegisteredRooms(t *testing.T) {
	cat, err := catalog.New("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.New(ctx, cat, account.NewMemory(), room.Config{}, zap.NewNop())

	reply := make(chan *room.Room, 1)
	h.Inbox() <- hub.EnsureRoom{Name: "001", Reply: reply}
	<-reply
	h.Inbox() <- hub.EnsureRoom{Name: "002", Reply: reply}
	<-reply

	rec := httptest.NewRecorder()
	Rooms(h)(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body struct {
		Rooms []string `json:"rooms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Rooms) != 2 || body.Rooms[0] != "001" || body.Rooms[1] != "002" {
		t.Fatalf("want sorted room names, got %v", body.Rooms)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}
