package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/simulator"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestRecorderWritesCBORSequence(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()

	var out closeBuffer
	rec := NewRecorder(hub, &out, []string{"drone/odometry", "fault"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	hub.PublishAt("drone/odometry", stamp, Odometry{
		Header:       Header{Stamp: stamp, FrameID: "odom"},
		ChildFrameID: "drone",
		Pose:         simulator.Pose{Position: simulator.Vector3{X: 1, Y: 2, Z: 3}, Orientation: simulator.IdentityQuaternion()},
	})
	hub.Publish("clock", ClockSample{SimTimeNanos: 5})
	hub.Publish("fault", Fault{Source: "command", Code: "BUSY", Message: "queue full"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil || !out.closed {
		t.Fatalf("Close() = %v, closed = %v", err, out.closed)
	}
	if rec.Written() != 2 {
		t.Fatalf("Expected Written() 2, got %d", rec.Written())
	}

	var got []Record
	if err := ReadRecords(&out.Buffer, func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}

	if got[0].Topic != "drone/odometry" || !got[0].Stamp.Equal(stamp) || got[0].ID != 1 {
		t.Errorf("record 0 = %+v", got[0])
	}
	data, ok := got[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("record data type %T", got[0].Data)
	}
	if data["childFrameId"] != "drone" {
		t.Errorf("childFrameId = %v", data["childFrameId"])
	}
	if got[1].Topic != "fault" {
		t.Errorf("record 1 topic = %q", got[1].Topic)
	}
}

func TestReadRecordsRejectsGarbage(t *testing.T) {
	err := ReadRecords(bytes.NewReader([]byte{0xff, 0x00, 0x13}), func(Record) error { return nil })
	if err == nil {
		t.Error("expected decode error")
	}
}
