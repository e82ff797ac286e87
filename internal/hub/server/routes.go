// Package server wires the hub's HTTP surface: the websocket upgrade
// at /ws, the relay API under /api, and a health endpoint.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/CH563/web-transfer/internal/hub/relay"
	"github.com/CH563/web-transfer/internal/hub/signaling"
)

// Configure the websocket upgrader. 64 KiB buffers comfortably fit
// SDP blobs and device lists.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// LAN deployment, no cookie auth: any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades the request and
// hands the session to the hub.
func ServeWs(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("websocket upgrade", "err", err)
			return
		}

		sess := &signaling.Session{
			Hub:  hub,
			Conn: conn,
			Send: make(chan *signaling.Message, 256),
		}

		sess.Hub.Register <- sess

		go sess.WritePump()
		go sess.ReadPump()
	}
}

// NewRouter builds the chi router for the hub.
func NewRouter(hub *signaling.Hub, relayHandler *relay.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Signaling server is healthy."))
	})

	r.Get("/ws", ServeWs(hub))

	r.Route("/api", func(r chi.Router) {
		relayHandler.Routes(r)
	})

	return r
}

// requestLogger logs each completed request through slog. The upload
// and download bodies make the default chi logger too chatty.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
