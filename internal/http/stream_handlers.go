package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/pulseboard/pulseboard/internal/domain"
	"github.com/pulseboard/pulseboard/internal/ws"
)

func (r *Router) handleUpdatesWS(w http.ResponseWriter, req *http.Request) {
	project := strings.TrimSpace(req.URL.Query().Get("project"))
	if project == "" {
		writeError(w, http.StatusBadRequest, domain.ErrValidation, "project query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(project, client)
	go func() {
		defer func() {
			r.hub.Unregister(project, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleUpdatesSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	project := strings.TrimSpace(req.URL.Query().Get("project"))
	if project == "" {
		writeError(w, http.StatusBadRequest, domain.ErrValidation, "project query parameter required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, nil, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(project, client)
	defer func() {
		r.hub.Unregister(project, client)
		client.Close()
	}()

	ticker := time.NewTicker(r.sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
