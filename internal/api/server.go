package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/middleware"
)

// Server exposes a Manager over REST/JSON and a WebSocket status feed,
// for a dashboard or a fleet-management agent running alongside the
// head-unit process.
type Server struct {
	manager *Manager
	feed    *StatusFeed
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter
}

// NewServer builds a Server around an already-constructed Manager.
func NewServer(manager *Manager, feed *StatusFeed, mt *metrics.Metrics) *Server {
	return &Server{
		manager: manager,
		feed:    feed,
		metrics: mt,
		limiter: middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: 120}),
	}
}

// Router builds the mux.Router this server answers on, so callers can
// embed it under their own http.Server for lifecycle control.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	r.Use(s.limiter.Middleware)

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/input/touch", s.handleSendTouch).Methods(http.MethodPost)
	r.HandleFunc("/api/input/button", s.handleSendButton).Methods(http.MethodPost)
	r.HandleFunc("/ws/status", s.feed.HandleWebSocket)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	State              string `json:"state"`
	Connected          bool   `json:"connected"`
	DeviceVendorID     uint16 `json:"device_vendor_id,omitempty"`
	DeviceProductID    uint16 `json:"device_product_id,omitempty"`
	DeviceSerialNumber string `json:"device_serial_number,omitempty"`
	DeviceBusPath      string `json:"device_bus_path,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: s.manager.State().String()}
	if dev, ok := s.manager.DeviceInfo(); ok {
		resp.Connected = true
		resp.DeviceVendorID = dev.VendorID
		resp.DeviceProductID = dev.ProductID
		resp.DeviceSerialNumber = dev.SerialNumber
		resp.DeviceBusPath = dev.BusPath
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.manager.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.manager.Stop(req.Reason); err != nil {
		log.Printf("api: stop: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSendTouch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X      uint16 `json:"x"`
		Y      uint16 `json:"y"`
		Action uint8  `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.manager.SendTouch(r.Context(), req.X, req.Y, messages.TouchAction(req.Action)); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleSendButton(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keycode uint32 `json:"keycode"`
		Pressed bool   `json:"pressed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.manager.SendButton(r.Context(), req.Keycode, req.Pressed); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// ListenAndServe starts the HTTP server on addr (e.g. ":8080").
func (s *Server) ListenAndServe(addr string) error {
	log.Printf("api: control server listening on %s", addr)
	if err := http.ListenAndServe(addr, s.Router()); err != nil {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}
