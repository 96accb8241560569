package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sim-control/simbridge/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	recEncMode cbor.EncMode
	recDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	recEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("telemetry: CBOR encoder initialization failed: " + err.Error())
	}

	recDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("telemetry: CBOR decoder initialization failed: " + err.Error())
	}
}

// Record is one recorded event. A recording is a CBOR sequence of
// records.
type Record struct {
	Topic string    `json:"topic"`
	ID    int64     `json:"id"`
	Stamp time.Time `json:"stamp"`
	Data  any       `json:"data"`
}

// Recorder writes bus events to a CBOR sequence.
type Recorder struct {
	sub     *Subscription
	out     io.WriteCloser
	enc     *cbor.Encoder
	logger  *slog.Logger
	written atomic.Uint64
}

// OpenRecorder records cfg.RecorderTopics (all topics when empty) into
// a size-rotated file at cfg.RecorderPath.
func OpenRecorder(hub *Hub, cfg config.TelemetryConfig, logger *slog.Logger) (*Recorder, error) {
	if cfg.RecorderPath == "" {
		return nil, errors.New("recorder path is empty")
	}
	file := &lumberjack.Logger{
		Filename:   cfg.RecorderPath,
		MaxSize:    cfg.RecorderMaxSizeMB,
		MaxBackups: cfg.RecorderMaxBackups,
	}
	return NewRecorder(hub, file, cfg.RecorderTopics, logger), nil
}

// NewRecorder records topics into w. It subscribes immediately, so no
// event published after NewRecorder returns is missed.
func NewRecorder(hub *Hub, w io.WriteCloser, topics []string, logger *slog.Logger) *Recorder {
	return &Recorder{
		sub:    hub.Subscribe(topics...),
		out:    w,
		enc:    recEncMode.NewEncoder(w),
		logger: logger,
	}
}

// Run writes events until ctx ends or the hub stops, then drains what
// is already queued.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.sub.Close()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case event, ok := <-r.sub.Events():
			if !ok {
				return nil
			}
			r.write(event)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case event, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.write(event)
		default:
			return
		}
	}
}

func (r *Recorder) write(event Event) {
	rec := Record{Topic: event.Topic, ID: event.ID, Stamp: event.Stamp, Data: event.Data}
	if err := r.enc.Encode(rec); err != nil {
		r.logger.Warn("failed to record event", "topic", event.Topic, "error", err)
		return
	}
	r.written.Add(1)
}

// Written counts records written.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close closes the output. Call it after Run has returned.
func (r *Recorder) Close() error {
	r.sub.Close()
	return r.out.Close()
}

// ReadRecords decodes a recording, calling fn for each record in order.
func ReadRecords(rd io.Reader, fn func(Record) error) error {
	dec := recDecMode.NewDecoder(rd)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
