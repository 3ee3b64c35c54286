package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/findit-game/findit-server/internal/hub"
	"github.com/findit-game/findit-server/internal/server"
	"github.com/findit-game/findit-server/internal/ws"
)

func SetupRoutes(h *hub.Hub, s *server.Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/rooms", Rooms(h))
	r.Get("/ws", ws.Handler(s))
	return r
}
