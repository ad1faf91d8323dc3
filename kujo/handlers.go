package kujo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	. "nyiyui.ca/hato/fmu"
	"nyiyui.ca/hato/fmu/param"
)

// maxBody bounds every request body.
const maxBody = 1 << 16

type commandRequest struct {
	Kind CommandKind `json:"kind"`
	Mode FlightMode  `json:"mode"`
}

type commandResponse struct {
	ID uuid.UUID `json:"id"`
}

type pilotRequest struct {
	Roll     float64 `json:"roll"`
	Pitch    float64 `json:"pitch"`
	Yaw      float64 `json:"yaw"`
	Throttle float64 `json:"throttle"`
}

type waypointRequest struct {
	North        float64 `json:"north"`
	East         float64 `json:"east"`
	Down         float64 `json:"down"`
	Yaw          float64 `json:"yaw"`
	AcceptRadius float64 `json:"accept_radius"`
	Hold         string  `json:"hold"`
}

type missionRequest struct {
	Waypoints []waypointRequest `json:"waypoints"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return false
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode: %w", err))
		return false
	}
	return true
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decode(w, r, &req) {
		return
	}
	now := s.conf.Now()
	cmd := OperatorCommand{ID: uuid.New(), Time: now, Kind: req.Kind, Mode: req.Mode}
	s.conf.Topics.Command.Publish(cmd, now)
	s.log.Infow("command", "command", cmd, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, commandResponse{ID: cmd.ID})
}

func (s *Server) handlePilot(w http.ResponseWriter, r *http.Request) {
	var req pilotRequest
	if !decode(w, r, &req) {
		return
	}
	in := func(v, lo, hi float64) bool { return v >= lo && v <= hi }
	if !in(req.Roll, -1, 1) || !in(req.Pitch, -1, 1) || !in(req.Yaw, -1, 1) || !in(req.Throttle, 0, 1) {
		writeError(w, http.StatusBadRequest, errors.New("stick out of range"))
		return
	}
	now := s.conf.Now()
	s.conf.Topics.Pilot.Publish(PilotInput{
		Time:     now,
		Roll:     req.Roll,
		Pitch:    req.Pitch,
		Yaw:      req.Yaw,
		Throttle: req.Throttle,
	}, now)
	w.WriteHeader(http.StatusNoContent)
}

func (req missionRequest) mission() (Mission, error) {
	if len(req.Waypoints) == 0 {
		return Mission{}, errors.New("no waypoints")
	}
	m := Mission{ID: uuid.New(), Waypoints: make([]Waypoint, len(req.Waypoints))}
	for i, wr := range req.Waypoints {
		wp := Waypoint{
			Position:     Vec3{X: wr.North, Y: wr.East, Z: wr.Down},
			Yaw:          wr.Yaw,
			AcceptRadius: wr.AcceptRadius,
		}
		if !wp.Position.Finite() || math.IsNaN(wp.Yaw) || math.IsInf(wp.Yaw, 0) {
			return Mission{}, fmt.Errorf("waypoint %d: not finite", i)
		}
		if wp.AcceptRadius < 0 {
			return Mission{}, fmt.Errorf("waypoint %d: negative accept radius", i)
		}
		if wr.Hold != "" {
			d, err := time.ParseDuration(wr.Hold)
			if err != nil || d < 0 {
				return Mission{}, fmt.Errorf("waypoint %d: hold %q", i, wr.Hold)
			}
			wp.Hold = d
		}
		m.Waypoints[i] = wp
	}
	return m, nil
}

func (s *Server) handleMission(w http.ResponseWriter, r *http.Request) {
	var req missionRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := req.mission()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.conf.Topics.Mission.Publish(m, s.conf.Now())
	s.log.Infow("mission", "mission", m)
	writeJSON(w, http.StatusOK, commandResponse{ID: m.ID})
}

type paramsResponse struct {
	Values    map[string]string `json:"values"`
	Overrides map[string]string `json:"overrides"`
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	snap := s.conf.Store.Snapshot()
	resp := paramsResponse{Values: map[string]string{}}
	for _, name := range param.Names() {
		v, err := snap.Get(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Values[name] = v
	}
	var err error
	resp.Overrides, err = s.conf.Store.Overrides()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type paramRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/params/")
	if r.Method == http.MethodGet {
		v, err := s.conf.Store.Get(name)
		if errors.Is(err, param.ErrUnknown) {
			writeError(w, http.StatusNotFound, err)
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, paramRequest{Value: v})
		return
	}
	var req paramRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.conf.Store.Set(name, req.Value)
	if errors.Is(err, param.ErrUnknown) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Infow("param set", "name", name, "value", req.Value, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, paramRequest{Value: req.Value})
}
