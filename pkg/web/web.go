// Package web provides a web server and JSON status API for the PDV tester.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lencsegabor/pdvtester/internal/coordinator"
)

const apiVersion = "1.0.0"

// Stats for API responses, mirroring coordinator.Stats plus evaluator detail.
type Stats struct {
	Side           string  `json:"side"`
	State          string  `json:"state"`
	Progress       float64 `json:"progress"`
	FramesSent     uint64  `json:"frames_sent"`
	FramesReceived uint64  `json:"frames_received"`
	FramesLost     uint64  `json:"frames_lost"`
	NumCorrected   int     `json:"num_corrected"`
	DminMs         float64 `json:"dmin_ms"`
	DmaxMs         float64 `json:"dmax_ms"`
	D999Ms         float64 `json:"d999_ms"`
	PDVMs          float64 `json:"pdv_ms"`
	Uptime         float64 `json:"uptime_sec"`
	Timestamp      int64   `json:"timestamp"`
}

// Result for one completed direction.
type Result struct {
	Side       string  `json:"side"`
	DminMs     float64 `json:"dmin_ms"`
	DmaxMs     float64 `json:"dmax_ms"`
	D999Ms     float64 `json:"d999_ms"`
	PDVMs      float64 `json:"pdv_ms"`
	FramesLost uint64  `json:"frames_lost"`
	Timestamp  int64   `json:"timestamp"`
}

// Config for test execution, as posted to /api/start.
type Config struct {
	Interface      string `json:"interface"`
	FrameSize      uint32 `json:"frame_size"`
	FrameRate      uint64 `json:"frame_rate"`
	DurationSec    int    `json:"duration_sec"`
	Stateful       int    `json:"stateful"`
	FrameTimeoutMs uint64 `json:"frame_timeout_ms"`
}

// fromCoordinatorStats translates a coordinator snapshot into the API's
// wire shape, filling in the fields coordinator.Stats doesn't carry
// (State/Progress/Uptime are derived, not sourced from the evaluator).
func fromCoordinatorStats(st coordinator.Stats) Stats {
	s := Stats{
		Side:           st.Name,
		State:          "running",
		FramesSent:     st.FramesSent,
		FramesReceived: st.FramesReceived,
		FramesLost:     st.FramesLost,
		PDVMs:          st.PDVMs,
		Uptime:         st.Elapsed.Seconds(),
		Timestamp:      time.Now().Unix(),
	}
	if st.Done {
		s.State = "done"
		s.Progress = 100
	}
	return s
}

// status holds everything the HTTP handlers read or mutate, guarded by one
// RWMutex. Kept as its own type so Server's wiring fields (callbacks,
// publisher, mux) aren't tangled with the request-serving state.
type status struct {
	mu      sync.RWMutex
	stats   Stats
	results []Result
	config  Config
}

func (s *status) snapshotStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *status) setStats(st Stats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

func (s *status) snapshotResults() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

func (s *status) addResult(r Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *status) clearResults() {
	s.mu.Lock()
	s.results = s.results[:0]
	s.mu.Unlock()
}

func (s *status) snapshotConfig() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *status) setConfig(c Config) {
	s.mu.Lock()
	s.config = c
	s.mu.Unlock()
}

// Server represents the web server
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	uiFS   fs.FS
	pub    *coordinator.StatsPublisher

	st status

	pollMu     sync.Mutex
	pollCancel context.CancelFunc

	// Callbacks
	OnStart  func(cfg Config) error
	OnStop   func() error
	OnCancel func()
}

// Option for server configuration
type Option func(*Server)

// WithUI sets the embedded UI filesystem
func WithUI(uiFS embed.FS, subdir string) Option {
	return func(s *Server) {
		sub, err := fs.Sub(uiFS, subdir)
		if err == nil {
			s.uiFS = sub
		}
	}
}

// WithPublisher wires a coordinator.StatsPublisher into the server: once a
// test is started, a background loop polls it and feeds /api/stats so the
// endpoint reflects the running test instead of a stats snapshot that's
// never updated.
func WithPublisher(pub *coordinator.StatsPublisher) Option {
	return func(s *Server) { s.pub = pub }
}

// New creates a new web server
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		mux:  http.NewServeMux(),
	}
	s.st.results = make([]Result, 0)

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	routes := map[string]http.HandlerFunc{
		"/api/stats":   s.handleStats,
		"/api/results": s.handleResults,
		"/api/config":  s.handleConfig,
		"/api/start":   s.handleStart,
		"/api/stop":    s.handleStop,
		"/api/cancel":  s.handleCancel,
		"/api/health":  s.handleHealth,
	}
	for path, h := range routes {
		s.mux.HandleFunc(path, h)
	}

	if s.uiFS != nil {
		s.mux.Handle("/", http.FileServer(http.FS(s.uiFS)))
	} else {
		s.mux.HandleFunc("/", s.handleRoot)
	}
}

// requireMethod writes a 405 and reports false unless r was made with
// method; handlers should return immediately when it reports false.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>PDV Tester</title>
    <style>
        body { font-family: system-ui, sans-serif; background: #1a1a2e; color: #eee; margin: 40px; }
        h1 { color: #0f0; }
        .card { background: #16213e; padding: 20px; border-radius: 8px; margin: 10px 0; }
        pre { background: #0f0f23; padding: 10px; border-radius: 4px; overflow-x: auto; }
        a { color: #4da6ff; }
    </style>
</head>
<body>
    <h1>PDV Tester</h1>
    <div class="card">
        <h2>API Endpoints</h2>
        <ul>
            <li><a href="/api/stats">GET /api/stats</a> - Current PDV statistics</li>
            <li><a href="/api/results">GET /api/results</a> - Completed direction results</li>
            <li><a href="/api/config">GET /api/config</a> - Current configuration</li>
            <li>POST /api/start - Start test</li>
            <li>POST /api/stop - Stop test</li>
            <li>POST /api/cancel - Cancel test</li>
            <li><a href="/api/health">GET /api/health</a> - Health check</li>
        </ul>
    </div>
    <div class="card">
        <h2>Start Test</h2>
        <pre>curl -X POST http://localhost%s/api/start \
  -H "Content-Type: application/json" \
  -d '{"interface":"eth0","frame_size":64,"frame_rate":10000,"duration_sec":10}'</pre>
    </div>
</body>
</html>`, s.addr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   apiVersion,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.st.snapshotStats())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, s.st.snapshotResults())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.st.snapshotConfig())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config: %v", err), http.StatusBadRequest)
		return
	}

	s.st.setConfig(cfg)
	s.st.clearResults()

	if s.OnStart != nil {
		if err := s.OnStart(cfg); err != nil {
			http.Error(w, fmt.Sprintf("start failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	s.startPolling()
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	s.stopPolling()
	if s.OnStop != nil {
		if err := s.OnStop(); err != nil {
			http.Error(w, fmt.Sprintf("stop failed: %v", err), http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	s.stopPolling()
	if s.OnCancel != nil {
		s.OnCancel()
	}

	writeJSON(w, map[string]string{"status": "cancelled"})
}

// startPolling launches a goroutine that copies s.pub's latest snapshot into
// s.st every tick until stopPolling cancels it. It does not stop itself on
// a Done snapshot: pub is shared across every direction a stateful or
// stateless run launches (preliminary, forward, reverse), so one
// direction finishing doesn't mean the run is over — handleStop/
// handleCancel/Stop own the loop's lifetime. A no-op when no publisher was
// wired (CLI/TUI-only runs never call WithPublisher).
func (s *Server) startPolling() {
	if s.pub == nil {
		return
	}
	s.stopPolling()

	ctx, cancel := context.WithCancel(context.Background())
	s.pollMu.Lock()
	s.pollCancel = cancel
	s.pollMu.Unlock()

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.st.setStats(fromCoordinatorStats(s.pub.Load()))
			}
		}
	}()
}

func (s *Server) stopPolling() {
	s.pollMu.Lock()
	cancel := s.pollCancel
	s.pollCancel = nil
	s.pollMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// UpdateStats updates the current statistics
func (s *Server) UpdateStats(stats Stats) {
	s.st.setStats(stats)
}

// AddResult adds a test result
func (s *Server) AddResult(result Result) {
	s.st.addResult(result)
}

// ClearResults clears all results
func (s *Server) ClearResults() {
	s.st.clearResults()
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[web] Starting server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.stopPolling()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
