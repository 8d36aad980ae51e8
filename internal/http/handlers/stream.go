package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const streamWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the bearer token, not by the browser.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamMessage struct {
	Type       string             `json:"type"`
	Generation generationResponse `json:"generation"`
}

// GenerationStream pushes the generation over a websocket every time it
// changes and closes the socket once the job is terminal.
func (a *App) GenerationStream(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.workspaceID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	g, err := a.Generations.Get(r.Context(), ws, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Debug().Err(err).Str("generation_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := a.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	type snapshot struct {
		status   string
		progress int
		updated  int64
	}
	var last snapshot
	for {
		if cur := (snapshot{string(g.Status), g.Progress, g.UpdatedAt.UnixNano()}); cur != last {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(streamMessage{Type: "generation", Generation: toGenerationResponse(g)}); err != nil {
				return
			}
			last = cur
		}
		if g.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(g.Status)),
				time.Now().Add(streamWriteWait))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ticker.C:
		}
		next, err := a.Generations.Get(r.Context(), ws, id)
		if err != nil {
			a.Logger.Warn().Err(err).Str("generation_id", id).Msg("stream refresh failed")
			return
		}
		g = next
	}
}
