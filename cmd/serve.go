// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream sensor events to WebSocket clients",
	Long: `Run the driver and push every published event to WebSocket clients as JSON.

Endpoints:
  /ws          event stream, one JSON object per message
  /api/state   current driver state as JSON

Event objects carry time, kind and whichever of gate, value, state and text
apply to the kind.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, :8402)")
}

// eventServer fans driver events out to WebSocket clients.
type eventServer struct {
	logger *zap.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// state answers /api/state; nil disables the endpoint.
	state func(ctx context.Context) (ld2402.State, error)

	// last holds the most recent event of each kind so new clients start
	// with a full picture.
	lastMu sync.Mutex
	last   map[ld2402.EventKind]ld2402.Event
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newEventServer(log *zap.Logger) *eventServer {
	return &eventServer{
		logger:  log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		last: make(map[ld2402.EventKind]ld2402.Event),
	}
}

func (s *eventServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/state", s.handleState)
	return mux
}

// Publish implements ld2402.Sink.
func (s *eventServer) Publish(e ld2402.Event) {
	if e.Kind != ld2402.EventMotionEnergy && e.Kind != ld2402.EventStillEnergy {
		s.lastMu.Lock()
		s.last[e.Kind] = e
		s.lastMu.Unlock()
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.Error(err))
		return
	}
	s.broadcast(data)
}

func (s *eventServer) broadcast(data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *eventServer) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *eventServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	// Queue the latest values before the client becomes visible to
	// broadcast, so they arrive first.
	s.lastMu.Lock()
	for _, e := range s.last {
		if data, err := json.Marshal(e); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}
	s.lastMu.Unlock()

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", zap.String("remote", r.RemoteAddr), zap.Int("total", total))

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine; only detects disconnects
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			s.logger.Info("client disconnected", zap.Int("total", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *eventServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.state == nil {
		http.Error(w, "no driver", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	state, err := s.state(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stateView(state))
}

// stateJSON is the /api/state payload.
type stateJSON struct {
	Mode               string    `json:"mode"`
	ConfigActive       bool      `json:"config_active"`
	EngineeringEnabled bool      `json:"engineering_enabled"`
	Calibrating        bool      `json:"calibrating"`
	CalibrationPercent int       `json:"calibration_percent"`
	FirmwareVersion    string    `json:"firmware_version"`
	SerialNumber       string    `json:"serial_number,omitempty"`
	PowerInterference  bool      `json:"power_interference"`
	Distance           float64   `json:"distance_cm"`
	Presence           bool      `json:"presence"`
	Micromovement      bool      `json:"micromovement"`
	LastByteAt         time.Time `json:"last_byte_at"`
}

func stateView(s ld2402.State) stateJSON {
	return stateJSON{
		Mode:               s.Mode.String(),
		ConfigActive:       s.ConfigActive,
		EngineeringEnabled: s.EngineeringEnabled,
		Calibrating:        s.Calibration.InProgress,
		CalibrationPercent: s.Calibration.Progress,
		FirmwareVersion:    s.FirmwareVersion,
		SerialNumber:       s.SerialNumber,
		PowerInterference:  s.PowerInterference,
		Distance:           s.Distance,
		Presence:           s.Presence,
		Micromovement:      s.Micromovement,
		LastByteAt:         s.LastByteAt,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	listen := appConfig.Serve.ListenAddr
	if cmd.Flags().Changed("listen") {
		listen = serveListen
	}

	srv := newEventServer(logger.Named("serve"))
	s, err := openSession(ld2402.WithSink(srv))
	if err != nil {
		return err
	}
	defer s.Close()

	srv.state = func(ctx context.Context) (ld2402.State, error) {
		var state ld2402.State
		err := s.driver.Call(ctx, func(d *ld2402.Driver) error {
			state = d.State()
			return nil
		})
		return state, err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	httpSrv := &http.Server{
		Addr:    listen,
		Handler: srv.handler(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutCtx)
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", listen), zap.String("connection", s.connInfo))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
			cancel()
		}
	}()

	s.start()
	runErr := s.run(ctx)

	select {
	case err := <-errs:
		return err
	default:
	}
	return runErr
}
