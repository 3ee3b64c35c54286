package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/findit-game/findit-server/internal/hub"
)

// Rooms reports the currently registered room names; rooms come and go with
// their rosters, so this is a point-in-time snapshot for operators.
func Rooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		h.Inbox() <- hub.ListRooms{Reply: reply}

		var names []string
		select {
		case names = <-reply:
		case <-time.After(2 * time.Second):
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}
		sort.Strings(names)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms []string `json:"rooms"`
		}{Rooms: names})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
