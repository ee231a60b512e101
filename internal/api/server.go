// Package api はカオス実験を操作する HTTP API を提供する
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"chaos-mcp/internal/config"
	"chaos-mcp/internal/events"
	"chaos-mcp/internal/orchestrator"
)

// Server は API サーバー
type Server struct {
	addr   string
	orch   *orchestrator.Orchestrator
	bus    *events.Bus
	logger *zap.Logger

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しい API サーバーを作成する
func NewServer(addr string, orch *orchestrator.Orchestrator, bus *events.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:      addr,
		orch:      orch,
		bus:       bus,
		logger:    logger,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Start はサーバーを開始する
//
// ctx のキャンセルで graceful shutdown し、正常終了時は nil を返す。
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	// バックグラウンドでイベント配信
	go s.broadcastLoop(ctx)

	s.logger.Info("API server starting", zap.String("addr", s.addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler はルーティング済みの HTTP ハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/experiments", s.handleExperiments)
	mux.HandleFunc("/api/experiments/", s.handleExperiment)
	mux.HandleFunc("/api/validate", s.handleValidate)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/health", s.handleHealth)

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	RunningExperiments int     `json:"running_experiments"`
	TotalExperiments   int     `json:"total_experiments"`
	ActiveFaults       int     `json:"active_faults"`
	ErrorRate          float64 `json:"error_rate"`
	SuccessRate        float64 `json:"success_rate"`
}

func (s *Server) status() StatusResponse {
	running := 0
	summaries := s.orch.ListExperiments()
	for _, sum := range summaries {
		if sum.Status == orchestrator.StatusRunning {
			running++
		}
	}

	health := s.orch.Runner().Health()
	return StatusResponse{
		RunningExperiments: running,
		TotalExperiments:   len(summaries),
		ActiveFaults:       s.orch.Runner().ActiveCount(),
		ErrorRate:          health.ErrorRate(),
		SuccessRate:        health.SuccessRate(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

// RunResponse は実験開始レスポンス
type RunResponse struct {
	ExperimentID string `json:"experiment_id"`
	Status       string `json:"status"`
}

func (s *Server) handleExperiments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.orch.ListExperiments())
	case http.MethodPost:
		s.handleRunExperiment(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// runExperimentRequest は実験開始リクエスト
//
// preset か config のどちらか一方を指定する。preset 指定時は
// config の内容でプリセットを上書きしない。
type runExperimentRequest struct {
	Preset string                   `json:"preset,omitempty"`
	Config *config.ExperimentConfig `json:"config,omitempty"`
}

func (s *Server) handleRunExperiment(w http.ResponseWriter, r *http.Request) {
	var req runExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var cfg config.ExperimentConfig
	switch {
	case req.Preset != "":
		preset, ok := orchestrator.GetPreset(req.Preset)
		if !ok {
			http.Error(w, "Unknown preset", http.StatusBadRequest)
			return
		}
		cfg = preset
	case req.Config != nil:
		cfg = *req.Config
	default:
		http.Error(w, "Either preset or config is required", http.StatusBadRequest)
		return
	}

	if valid, errs := s.orch.ValidateExperiment(cfg); !valid {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid experiment config",
			"issues": errs,
		})
		return
	}

	// バックグラウンドで実行
	go func() {
		result := s.orch.RunExperiment(context.Background(), cfg)
		s.logger.Info("experiment finished via API",
			zap.String("experiment_id", result.ExperimentID),
			zap.String("status", string(result.Status)))
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "started",
		"experiment": cfg.Name,
	})
}

func (s *Server) handleExperiment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/experiments/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid experiment ID", http.StatusBadRequest)
		return
	}

	result, ok := s.orch.GetExperimentStatus(id)
	if !ok {
		http.Error(w, "Experiment not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// ValidateResponse は検証レスポンス
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg config.ExperimentConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	valid, errs := s.orch.ValidateExperiment(cfg)
	s.writeJSON(w, http.StatusOK, ValidateResponse{Valid: valid, Issues: errs})
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FaultCount  int    `json:"fault_count"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range orchestrator.ListPresets() {
		cfg, _ := orchestrator.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: cfg.Description,
			FaultCount:  len(cfg.Faults),
		})
	}

	s.writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.orch.Runner().Health().Metrics())
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	var sub <-chan events.Event
	if s.bus != nil {
		sub = s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": event,
			})
		case <-ticker.C:
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}
