package mocksim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string              `json:"jsonrpc"`
	Result  any                 `json:"result,omitempty"`
	Error   *simulator.RPCError `json:"error,omitempty"`
	ID      json.RawMessage     `json:"id"`
}

// MethodHandler answers one JSON-RPC method.
type MethodHandler func(ctx context.Context, params json.RawMessage) (any, error)

// maxRequestBytes bounds a request body.
const maxRequestBytes = 1 << 20

// maxWaitSlice caps how long waitOnTask blocks server side.
const maxWaitSlice = 5 * time.Second

// Server handles JSON-RPC HTTP requests against a World.
type Server struct {
	world    *World
	logger   *slog.Logger
	handlers map[string]MethodHandler
}

// NewServer creates a JSON-RPC server with every simulator method
// registered.
func NewServer(world *World, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		world:    world,
		logger:   logger.With("component", "rpc"),
		handlers: make(map[string]MethodHandler),
	}
	s.registerMethods()
	return s
}

// Register adds or replaces a method handler.
func (s *Server) Register(method string, h MethodHandler) {
	s.handlers[method] = h
}

// Handler returns the HTTP handler serving /rpc.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.HandleRequest)
	return mux
}

// HandleRequest handles HTTP POST requests to the JSON-RPC endpoint.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeResponse(w, errorResponse(nil, simulator.CodeInvalidRequest, "Invalid Request"))
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeResponse(w, errorResponse(nil, simulator.CodeParseError, "Parse error"))
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeResponse(w, errorResponse(req.ID, simulator.CodeInvalidRequest, "Invalid Request"))
		return
	}

	resp := s.process(r.Context(), &req)
	s.writeResponse(w, resp)

	s.logger.Debug("request processed", "method", req.Method, "duration", time.Since(start), "error", resp.Error != nil)
}

func (s *Server) process(ctx context.Context, req *Request) *Response {
	handler, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, simulator.CodeMethodNotFound, "Method not found")
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *simulator.RPCError
		if errors.As(err, &rpcErr) {
			return &Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID}
		}
		return errorResponse(req.ID, simulator.CodeInternalError, "INTERNAL: "+err.Error())
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &simulator.RPCError{Code: code, Message: message},
		ID:      id,
	}
}

// decodeParams strictly decodes params into v. Absent params leave v
// untouched.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

type vehicleParams struct {
	Vehicle string `json:"vehicle"`
}

type sensorParams struct {
	Sensor  string `json:"sensor"`
	Vehicle string `json:"vehicle"`
}

type flagParams struct {
	Enable  bool   `json:"enable"`
	Vehicle string `json:"vehicle"`
}

type taskParams struct {
	TaskID    string `json:"taskId"`
	TimeoutMs int64  `json:"timeoutMs"`
}

type taskResult struct {
	TaskID string `json:"taskId"`
}

type taskStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// query runs a read against the vehicle unless the simulator is
// offline.
func (s *Server) query(ctx context.Context, vehicleName string, fn func(*vehicle) (any, error)) (any, error) {
	return s.world.Execute(ctx, func(v *vehicle) (any, error) {
		if v.mode == ModeOffline {
			return nil, fault("OFFLINE", "")
		}
		if err := s.world.checkVehicle(vehicleName); err != nil {
			return nil, err
		}
		return fn(v)
	})
}

func (s *Server) registerMethods() {
	w := s.world
	cfg := w.cfg

	s.Register("ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return w.Execute(ctx, func(v *vehicle) (any, error) {
			return v.mode != ModeOffline, nil
		})
	})

	s.Register("getServerVersion", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.query(ctx, "", func(*vehicle) (any, error) { return cfg.Versions.Server, nil })
	})

	s.Register("getMinRequiredClientVersion", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.query(ctx, "", func(*vehicle) (any, error) { return cfg.Versions.MinClient, nil })
	})

	s.Register("getMultirotorState", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p vehicleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			return simulator.VehicleState{
				Pose: w.pose(v),
				Twist: simulator.Twist{
					Linear:  v.velocity,
					Angular: simulator.Vector3{Z: v.yawRate},
				},
				TimestampNanos: w.stamp(),
			}, nil
		})
	})

	s.Register("simGetVehiclePose", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p vehicleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) { return w.pose(v), nil })
	})

	s.Register("simGetCollisionInfo", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p vehicleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) { return v.collision, nil })
	})

	s.Register("simGetImages", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Requests []simulator.ImageRequest `json:"requests"`
			Vehicle  string                   `json:"vehicle"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			pose, stamp := w.pose(v), w.stamp()
			images := make([]simulator.Image, 0, len(p.Requests))
			for _, req := range p.Requests {
				images = append(images, renderImage(req, pose, stamp))
			}
			return images, nil
		})
	})

	s.Register("simGetCameraInfo", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Camera  string `json:"camera"`
			Vehicle string `json:"vehicle"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Camera == "" {
			return nil, invalidParams("camera name is required")
		}
		return s.query(ctx, p.Vehicle, func(*vehicle) (any, error) {
			return simulator.CameraInfo{Pose: simulator.IdentityPose(), FOVDeg: cameraFOVDeg}, nil
		})
	})

	s.Register("getLidarData", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p sensorParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			return simulator.LidarScan{Points: lidarRing(), Pose: w.pose(v), TimestampNanos: w.stamp()}, nil
		})
	})

	s.Register("getImuData", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p sensorParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			return simulator.ImuSample{
				Orientation:        simulator.QuaternionFromYaw(v.yaw),
				AngularVelocity:    simulator.Vector3{Z: v.yawRate},
				LinearAcceleration: simulator.Vector3{Z: -standardGravity},
				TimestampNanos:     w.stamp(),
			}, nil
		})
	})

	s.Register("enableApiControl", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p flagParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			v.apiControl = p.Enable
			if !p.Enable && v.active != nil {
				finish(v, v.active, simulator.TaskCancelled, "api control released")
			}
			return nil, nil
		})
	})

	s.Register("armDisarm", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p flagParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			if !v.apiControl {
				return nil, fault("API_CONTROL_DISABLED", "")
			}
			v.armed = p.Enable
			return nil, nil
		})
	})

	s.Register("reset", func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.query(ctx, "", func(v *vehicle) (any, error) {
			w.reset(v)
			return nil, nil
		})
	})

	s.Register("takeoff", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			TimeoutSec float64 `json:"timeoutSec"`
			Vehicle    string  `json:"vehicle"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			if err := w.requireControl(v, true); err != nil {
				return nil, err
			}
			target := v.position
			target.Z = math.Min(target.Z, -cfg.Vehicle.TakeoffAltitude)
			id := w.startTask(v, &task{kind: taskTakeoff, target: target, speed: cfg.Vehicle.MaxSpeed}, p.TimeoutSec)
			return taskResult{id}, nil
		})
	})

	s.Register("moveToPosition", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			Target     simulator.Vector3 `json:"target"`
			Velocity   float64           `json:"velocity"`
			TimeoutSec float64           `json:"timeoutSec"`
			YawMode    simulator.YawMode `json:"yawMode"`
			Vehicle    string            `json:"vehicle"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.Velocity <= 0 {
			return nil, invalidParams("velocity %v must be positive", p.Velocity)
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			if err := w.requireControl(v, true); err != nil {
				return nil, err
			}
			t := &task{
				kind:    taskMove,
				target:  p.Target,
				speed:   math.Min(p.Velocity, cfg.Vehicle.MaxSpeed),
				yawMode: p.YawMode,
			}
			return taskResult{w.startTask(v, t, p.TimeoutSec)}, nil
		})
	})

	s.Register("rotateToYaw", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p struct {
			YawDeg     float64 `json:"yawDeg"`
			TimeoutSec float64 `json:"timeoutSec"`
			MarginDeg  float64 `json:"marginDeg"`
			Vehicle    string  `json:"vehicle"`
		}
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		if p.MarginDeg < 0 {
			return nil, invalidParams("margin %v must not be negative", p.MarginDeg)
		}
		return s.query(ctx, p.Vehicle, func(v *vehicle) (any, error) {
			if err := w.requireControl(v, true); err != nil {
				return nil, err
			}
			t := &task{
				kind:   taskRotate,
				yaw:    wrapAngle(p.YawDeg * math.Pi / 180),
				margin: p.MarginDeg * math.Pi / 180,
			}
			return taskResult{w.startTask(v, t, p.TimeoutSec)}, nil
		})
	})

	s.Register("cancelTask", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p taskParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return nil, w.CancelTask(ctx, p.TaskID)
	})

	s.Register("waitOnTask", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p taskParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		wait := time.Duration(p.TimeoutMs) * time.Millisecond
		if wait <= 0 || wait > maxWaitSlice {
			wait = maxWaitSlice
		}
		status, message, err := w.WaitTask(ctx, p.TaskID, wait)
		if err != nil {
			return nil, err
		}
		return taskStatus{Status: status, Message: message}, nil
	})
}
