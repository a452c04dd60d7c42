package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/obs"
)

const (
	sseKeepAlive = 25 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// handlePermissionEvents streams matrix changes for one actor as
// Server-Sent Events.
func (a *API) handlePermissionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actorID")
	if _, ok := a.authorizeSelfOr(w, r, id, readStaff); !ok {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	serveSSE(w, r, "permission", a.svc.Matrix.Watch(ctx, id))
}

// handleAnomalyEvents streams monitor results.
func (a *API) handleAnomalyEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	if a.svc.Monitor == nil {
		writeError(w, r, http.StatusServiceUnavailable, "anomaly monitor disabled")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	serveSSE(w, r, "scan", a.svc.Monitor.Events().Subscribe(ctx, anomaly.MonitorTopic))
}

func serveSSE[T any](w http.ResponseWriter, r *http.Request, event string, ch <-chan T) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Streams outlive the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + event + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// handlePermissionSocket pushes matrix changes for one actor over a
// WebSocket. The client only needs to read; any inbound message is ignored.
func (a *API) handlePermissionSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actorID")
	if _, ok := a.authorizeSelfOr(w, r, id, readStaff); !ok {
		return
	}
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.Logger().Warn("websocket upgrade failed", zap.String("actor_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := a.svc.Matrix.Watch(ctx, id)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
