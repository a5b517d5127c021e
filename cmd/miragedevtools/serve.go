package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/miragestream/core/logging"
	"github.com/miragestream/core/metrics"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a debug websocket feed of synthetic per-stream metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", ":8090", "debug server listen address")
}

// debugUpgrader mirrors the teacher's internal/server websocket
// upgrader (CheckOrigin permissive for a local devtool, fixed buffer
// sizes).
var debugUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// debugClient is one connected debug-feed subscriber, following the
// teacher's wsClient shape (a dedicated send channel drained by a
// writer goroutine, rather than writing directly from the broadcaster).
type debugClient struct {
	conn *websocket.Conn
	send chan []byte
}

type debugServer struct {
	mu      sync.Mutex
	clients map[*debugClient]struct{}
	store   *metrics.Store
	log     logging.Logger
}

func newDebugServer(log logging.Logger) *debugServer {
	return &debugServer{
		clients: make(map[*debugClient]struct{}),
		store:   metrics.NewStore(),
		log:     log,
	}
}

func (s *debugServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := debugUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("debug server: upgrade: %v", err)
		return
	}
	client := &debugClient{conn: conn, send: make(chan []byte, 16)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(client)
	go s.readLoop(client)
}

func (s *debugServer) readLoop(c *debugClient) {
	defer s.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *debugServer) writeLoop(c *debugClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *debugServer) removeClient(c *debugClient) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

func (s *debugServer) broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warnf("debug server: marshal: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.log.Warnf("debug server: client send buffer full, dropping update")
		}
	}
}

// synthesize produces a slowly-drifting fake snapshot for stream 1, so
// `miragedevtools serve` is useful without a live host attached.
func (s *debugServer) synthesize(tick int) {
	fps := 60 - float64(tick%10)
	snap := s.store.UpdateHostMetrics(1, metrics.HostUpdate{
		EncodedFPS:     fps,
		LastBitrateBps: 40_000_000,
		LastQuality:    "high",
	})
	s.broadcast(map[string]any{
		"streamId": uint32(1),
		"snapshot": snap,
		"at":       time.Now().UTC(),
	})
}

func runServe() error {
	log := logging.New()
	srv := newDebugServer(log.With("component", "devtools-debug-server"))

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/metrics", srv.handleWS)

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tick := 0
		for range ticker.C {
			srv.synthesize(tick)
			tick++
		}
	}()

	log.Debugf("debug metrics feed listening on %s (ws endpoint /debug/metrics)", serveListenAddr)
	return http.ListenAndServe(serveListenAddr, mux)
}
