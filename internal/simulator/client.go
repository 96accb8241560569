package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// ClientVersion is the protocol version this client speaks.
const ClientVersion = 1

// MinServerVersion is the oldest server protocol this client accepts.
const MinServerVersion = 1

// ClientConfig configures the JSON-RPC client.
type ClientConfig struct {
	// Endpoint is the full URL of the JSON-RPC handler, e.g.
	// http://127.0.0.1:41451/rpc.
	Endpoint string

	// CallTimeout bounds every call that does not carry its own
	// deadline budget.
	CallTimeout time.Duration

	// ClientVersion and MinServerVersion override the compiled-in
	// values when non-zero.
	ClientVersion    int
	MinServerVersion int
}

// Client is a Simulator speaking JSON-RPC 2.0 over HTTP POST. It is
// safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	nextID atomic.Int64
}

// Compile-time assertion that Client implements Simulator
var _ Simulator = (*Client)(nil)

// NewClient creates a JSON-RPC simulator client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	if cfg.ClientVersion == 0 {
		cfg.ClientVersion = ClientVersion
	}
	if cfg.MinServerVersion == 0 {
		cfg.MinServerVersion = MinServerVersion
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	return c.callWithTimeout(ctx, c.cfg.CallTimeout, method, params, result)
}

func (c *Client) callWithTimeout(ctx context.Context, timeout time.Duration, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return &Error{Code: ErrInternal, Method: method, Original: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Code: ErrInternal, Method: method, Original: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: ErrUnavailable, Method: method, Original: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Code: ErrUnavailable, Method: method, Original: err}
	}

	var rpcResp Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return &Error{Code: ErrInternal, Method: method, Original: fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)}
	}
	if rpcResp.Error != nil {
		return NormalizeError(method, rpcResp.Error)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return &Error{Code: ErrInternal, Method: method, Original: fmt.Errorf("decode result: %w", err)}
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

type taskResult struct {
	TaskID string `json:"taskId"`
}

// GetConnectionState issues the ping handshake.
func (c *Client) GetConnectionState(ctx context.Context) (bool, error) {
	var pong bool
	if err := c.call(ctx, "ping", nil, &pong); err != nil {
		return false, err
	}
	return pong, nil
}

func (c *Client) GetServerVersion(ctx context.Context) (int, error) {
	var v int
	err := c.call(ctx, "getServerVersion", nil, &v)
	return v, err
}

// GetClientVersion returns the local protocol version.
func (c *Client) GetClientVersion(ctx context.Context) (int, error) {
	return c.cfg.ClientVersion, nil
}

// GetMinRequiredServerVersion returns the oldest server this client
// accepts.
func (c *Client) GetMinRequiredServerVersion(ctx context.Context) (int, error) {
	return c.cfg.MinServerVersion, nil
}

func (c *Client) GetMinRequiredClientVersion(ctx context.Context) (int, error) {
	var v int
	err := c.call(ctx, "getMinRequiredClientVersion", nil, &v)
	return v, err
}

func (c *Client) GetVehicleState(ctx context.Context, vehicle string) (*VehicleState, error) {
	var state VehicleState
	if err := c.call(ctx, "getMultirotorState", vehicleParams{vehicle}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (c *Client) GetCollisionInfo(ctx context.Context, vehicle string) (*CollisionInfo, error) {
	var info CollisionInfo
	if err := c.call(ctx, "simGetCollisionInfo", vehicleParams{vehicle}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetVehiclePose(ctx context.Context, vehicle string) (*Pose, error) {
	var pose Pose
	if err := c.call(ctx, "simGetVehiclePose", vehicleParams{vehicle}, &pose); err != nil {
		return nil, err
	}
	return &pose, nil
}

func (c *Client) GetImages(ctx context.Context, vehicle string, requests []ImageRequest) ([]Image, error) {
	params := struct {
		Requests []ImageRequest `json:"requests"`
		Vehicle  string         `json:"vehicle"`
	}{requests, vehicle}
	var images []Image
	if err := c.call(ctx, "simGetImages", params, &images); err != nil {
		return nil, err
	}
	return images, nil
}

func (c *Client) GetCameraInfo(ctx context.Context, camera, vehicle string) (*CameraInfo, error) {
	params := struct {
		Camera  string `json:"camera"`
		Vehicle string `json:"vehicle"`
	}{camera, vehicle}
	var info CameraInfo
	if err := c.call(ctx, "simGetCameraInfo", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetLidarData(ctx context.Context, sensor, vehicle string) (*LidarScan, error) {
	var scan LidarScan
	if err := c.call(ctx, "getLidarData", sensorParams{sensor, vehicle}, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (c *Client) GetImuData(ctx context.Context, sensor, vehicle string) (*ImuSample, error) {
	var sample ImuSample
	if err := c.call(ctx, "getImuData", sensorParams{sensor, vehicle}, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

func (c *Client) EnableAPIControl(ctx context.Context, enable bool, vehicle string) error {
	return c.call(ctx, "enableApiControl", flagParams{enable, vehicle}, nil)
}

func (c *Client) ArmDisarm(ctx context.Context, arm bool, vehicle string) error {
	return c.call(ctx, "armDisarm", flagParams{arm, vehicle}, nil)
}

func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, "reset", nil, nil)
}

func (c *Client) Takeoff(ctx context.Context, timeoutSec float64, vehicle string) (Handle, error) {
	params := struct {
		TimeoutSec float64 `json:"timeoutSec"`
		Vehicle    string  `json:"vehicle"`
	}{timeoutSec, vehicle}
	return c.startTask(ctx, "takeoff", params)
}

func (c *Client) MoveToPosition(ctx context.Context, target Vector3, velocity, timeoutSec float64, yaw YawMode, vehicle string) (Handle, error) {
	params := struct {
		Target     Vector3 `json:"target"`
		Velocity   float64 `json:"velocity"`
		TimeoutSec float64 `json:"timeoutSec"`
		YawMode    YawMode `json:"yawMode"`
		Vehicle    string  `json:"vehicle"`
	}{target, velocity, timeoutSec, yaw, vehicle}
	return c.startTask(ctx, "moveToPosition", params)
}

func (c *Client) RotateToYaw(ctx context.Context, yawDeg, timeoutSec, marginDeg float64, vehicle string) (Handle, error) {
	params := struct {
		YawDeg     float64 `json:"yawDeg"`
		TimeoutSec float64 `json:"timeoutSec"`
		MarginDeg  float64 `json:"marginDeg"`
		Vehicle    string  `json:"vehicle"`
	}{yawDeg, timeoutSec, marginDeg, vehicle}
	return c.startTask(ctx, "rotateToYaw", params)
}

func (c *Client) startTask(ctx context.Context, method string, params any) (Handle, error) {
	var res taskResult
	if err := c.call(ctx, method, params, &res); err != nil {
		return nil, err
	}
	if res.TaskID == "" {
		return nil, &Error{Code: ErrInternal, Method: method, Original: fmt.Errorf("empty task id")}
	}
	return &taskHandle{client: c, id: res.TaskID}, nil
}
