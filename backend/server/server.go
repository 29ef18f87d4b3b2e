package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Asmit356/anant-signaling/backend/metrics"
	"github.com/Asmit356/anant-signaling/backend/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// Signaling is the router surface the transport needs: session
	// lifecycle plus the out-of-band room termination.
	Signaling interface {
		Connect(ctx context.Context, connID string, wire model.Wire) error
		Disconnect(ctx context.Context, connID string) error
		EndRoom(ctx context.Context, name string)
	}

	Config struct {
		Logger     *zerolog.Logger
		Signaling  Signaling
		ListenAddr string
		CORSOrigin string
	}

	// Server is the single HTTP listener carrying the websocket signaling
	// endpoint and the administrative surface.
	Server struct {
		svc    Signaling
		ws     *websocket.Upgrader
		origin string
		*http.Server

		logger zerolog.Logger
	}
)

type (
	healthResponse struct {
		OK bool `json:"ok"`
	}

	endRoomResponse struct {
		Success bool `json:"success"`
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "server").Logger(),
		svc:    cfg.Signaling,
		origin: cfg.CORSOrigin,
	}
	srv.ws = &websocket.Upgrader{
		HandshakeTimeout: defaultWebSocketHandshakeTimeout,
		ReadBufferSize:   defaultWebsocketReadBufferSize,
		WriteBufferSize:  defaultWebsocketWriteBufferSize,
		CheckOrigin:      srv.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.signal)
	mux.HandleFunc("GET /health", srv.health)
	mux.HandleFunc("GET /endRoom", srv.endRoom)
	mux.Handle("GET /metrics", metrics.Handler())

	srv.Server = &http.Server{
		Addr: cfg.ListenAddr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: []string{cfg.CORSOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}).Handler(mux),
	}
	return srv
}

func (srv *Server) checkOrigin(r *http.Request) bool {
	if srv.origin == "" || srv.origin == "*" {
		return true
	}
	return r.Header.Get("Origin") == srv.origin
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &healthResponse{OK: true}, &srv.logger)
}

func (srv *Server) endRoom(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("room")
	if name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// acknowledge right away, meeting-ended fanout runs on its own
	go srv.svc.EndRoom(context.Background(), name)

	srv.logger.Debug().Str("room", name).Msg("admin end requested")
	writeJSON(w, http.StatusOK, &endRoomResponse{Success: true}, &srv.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *zerolog.Logger) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
