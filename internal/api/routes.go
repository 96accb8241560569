package api

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sim-control/simbridge/internal/auth"
	"github.com/sim-control/simbridge/internal/lifecycle"
	"github.com/sim-control/simbridge/internal/simulator"
)

const maxCommandBody = 64 << 10

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	mux.HandleFunc(apiV1+"/state", s.protect(auth.ScopeRead, s.handleState))
	mux.HandleFunc(apiV1+"/groups", s.protect(auth.ScopeRead, s.handleGroups))
	mux.HandleFunc(apiV1+"/topics", s.protect(auth.ScopeRead, s.handleTopics))
	mux.HandleFunc(apiV1+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))
	mux.HandleFunc(apiV1+"/command/pose", s.protect(auth.ScopeControl, s.handlePoseCommand))
}

func (s *Server) protect(scope string, h http.HandlerFunc) http.HandlerFunc {
	if s.opts.Auth == nil {
		return h
	}
	return s.opts.Auth.RequireAuth(s.opts.Auth.RequireScope(scope)(h))
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		fmt.Sprintf("Only %s method is allowed", method), nil)
	return false
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	state := lifecycle.Disconnected
	alive := false
	if s.opts.Status != nil {
		state = s.opts.Status.State()
		alive = s.opts.Status.SessionStatus().Alive
	}

	status := "ok"
	switch {
	case state == lifecycle.Shutdown:
		status = "down"
	case state != lifecycle.Running || !alive:
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":    status,
		"state":     state.String(),
		"simulator": alive,
		"uptimeSec": time.Since(s.startTime).Seconds(),
		"version":   s.opts.Version,
	}

	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"Bridge is not running", health)
}

// handleState handles GET /state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.Status == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}

	data := map[string]interface{}{
		"state":   s.opts.Status.State().String(),
		"session": s.opts.Status.SessionStatus(),
	}
	if s.opts.Commands != nil {
		issued, dropped := s.opts.Commands.Stats()
		data["commands"] = map[string]uint64{"issued": issued, "dropped": dropped}
		if last, ok := s.opts.Commands.Last(); ok {
			data["lastCommand"] = last
		}
	}
	WriteSuccess(w, data)
}

// handleGroups handles GET /groups.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.Status == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}
	WriteSuccess(w, s.opts.Status.Groups())
}

// handleTopics handles GET /topics.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.Telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}

	type topicInfo struct {
		Name   string    `json:"name"`
		LastID int64     `json:"lastId"`
		Stamp  time.Time `json:"stamp"`
	}
	var topics []topicInfo
	for _, name := range s.opts.Telemetry.Topics() {
		info := topicInfo{Name: name}
		if ev, ok := s.opts.Telemetry.Latest(name); ok {
			info.LastID = ev.ID
			info.Stamp = ev.Stamp
		}
		topics = append(topics, info)
	}
	WriteSuccess(w, map[string]interface{}{
		"topics":  topics,
		"dropped": s.opts.Telemetry.Dropped(),
	})
}

// handleTelemetry handles GET /telemetry as a server-sent event stream.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.Telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry not available", nil)
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.opts.Telemetry.ServeSSE(w, r); err != nil {
		s.logger.Debug("telemetry stream ended", "error", err)
	}
}

// handlePoseCommand handles POST /command/pose.
func (s *Server) handlePoseCommand(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.opts.Commands == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Command arbiter not available", nil)
		return
	}

	pose, err := decodePose(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	cmd, err := s.opts.Commands.Submit(r.Context(), pose)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, cmd)
}

// decodePose parses a strict JSON pose. A missing orientation means
// identity; a given one must have non-zero norm.
func decodePose(body io.Reader) (simulator.Pose, error) {
	var req struct {
		Position    *simulator.Vector3    `json:"position"`
		Orientation *simulator.Quaternion `json:"orientation"`
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return simulator.Pose{}, fmt.Errorf("%w: malformed JSON or unknown fields", ErrBadRequest)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return simulator.Pose{}, fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	if req.Position == nil {
		return simulator.Pose{}, fmt.Errorf("%w: position is required", ErrBadRequest)
	}

	pose := simulator.IdentityPose()
	pose.Position = *req.Position
	if req.Orientation != nil {
		q := *req.Orientation
		n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
		if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return simulator.Pose{}, fmt.Errorf("%w: orientation must be a non-zero quaternion", ErrBadRequest)
		}
		pose.Orientation = q.Normalize()
	}

	p := pose.Position
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return simulator.Pose{}, fmt.Errorf("%w: position must be finite", ErrBadRequest)
		}
	}
	return pose, nil
}
