package telemetry

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sim-control/simbridge/internal/clock"
)

func newTestHub(clk clock.Clock) *Hub {
	return NewHub(Options{
		BufferSize:        3,
		HeartbeatInterval: time.Second,
		SubscriberQueue:   8,
		Clock:             clk,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishAssignsPerTopicIDs(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()

	if ev := hub.Publish("a", 1); ev.ID != 1 || ev.Topic != "a" || ev.Type != TypeMessage {
		t.Errorf("first a = %+v", ev)
	}
	if ev := hub.Publish("a", 2); ev.ID != 2 {
		t.Errorf("second a id = %d", ev.ID)
	}
	if ev := hub.Publish("b", 3); ev.ID != 1 {
		t.Errorf("Expected first b id 1, got %d", ev.ID)
	}
	if got := hub.Topics(); strings.Join(got, ",") != "a,b" {
		t.Errorf("Topics() = %v", got)
	}
}

func TestSubscribeFiltersAndKeepsOrder(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()

	odom := hub.Subscribe("drone/odometry")
	all := hub.Subscribe()

	for i := 0; i < 5; i++ {
		hub.Publish("drone/odometry", i)
		hub.Publish("clock", i)
	}

	for i := 0; i < 5; i++ {
		ev := recv(t, odom)
		if ev.Topic != "drone/odometry" || ev.Data != i {
			t.Fatalf("odom event %d = %+v", i, ev)
		}
	}
	select {
	case ev := <-odom.Events():
		t.Errorf("filtered subscription got %+v", ev)
	default:
	}

	if n := len(all.Events()); n != 8 {
		t.Errorf("Expected unfiltered queue 8 (queue depth), got %d", n)
	}
	if hub.Dropped() != 2 {
		t.Errorf("Expected Dropped() 2, got %d", hub.Dropped())
	}
}

func TestLatestAndBufferEviction(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()

	if _, ok := hub.Latest("tf_static"); ok {
		t.Error("Latest on unknown topic")
	}
	for i := 1; i <= 5; i++ {
		hub.Publish("tf_static", i)
	}
	ev, ok := hub.Latest("tf_static")
	if !ok || ev.Data != 5 {
		t.Errorf("Latest = %+v, %v", ev, ok)
	}

	buf := NewEventBuffer(3)
	for i := int64(1); i <= 5; i++ {
		buf.AddEvent(Event{ID: i})
	}
	if buf.GetSize() != 3 {
		t.Errorf("size = %d", buf.GetSize())
	}
	after := buf.GetEventsAfter(3)
	if len(after) != 2 || after[0].ID != 4 || after[1].ID != 5 {
		t.Errorf("GetEventsAfter(3) = %+v", after)
	}
}

func TestStopClosesSubscriptions(t *testing.T) {
	hub := newTestHub(nil)
	sub := hub.Subscribe()
	hub.Stop()

	if _, ok := <-sub.Events(); ok {
		t.Error("subscription still open after Stop")
	}
	hub.Publish("a", 1)
	hub.Stop()
	sub.Close()
}

type sseEvent struct {
	id   int64
	name string
	data string
}

func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "id: "):
			ev.id, _ = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openSSE(t *testing.T, url string, lastID int64) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestServeSSEStreamsFilteredTopics(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeSSE(w, r)
	}))
	defer srv.Close()

	r, closeFn := openSSE(t, srv.URL+"?topic=drone/collision,fault", 0)
	defer closeFn()

	if ready := readSSE(t, r); ready.name != TypeReady {
		t.Fatalf("Expected first event ready, got %+v", ready)
	}

	hub.Publish("drone/odometry", Ready{Ready: false})
	hub.Publish("drone/collision", Collision{Collided: true, ObjectName: "wall"})
	hub.Publish("fault", Fault{Source: "command", Code: "UNAVAILABLE"})

	ev := readSSE(t, r)
	if ev.name != "drone/collision" || ev.id != 1 || !strings.Contains(ev.data, `"objectName":"wall"`) {
		t.Errorf("collision event = %+v", ev)
	}
	ev = readSSE(t, r)
	if ev.name != "fault" || !strings.Contains(ev.data, `"code":"UNAVAILABLE"`) {
		t.Errorf("fault event = %+v", ev)
	}
}

func TestServeSSEResumesFromLastEventID(t *testing.T) {
	hub := newTestHub(nil)
	defer hub.Stop()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeSSE(w, r)
	}))
	defer srv.Close()

	for i := 1; i <= 3; i++ {
		hub.Publish("clock", ClockSample{SimTimeNanos: uint64(i)})
	}

	r, closeFn := openSSE(t, srv.URL+"?topic=clock", 1)
	defer closeFn()

	readSSE(t, r) // ready
	for _, want := range []int64{2, 3} {
		if ev := readSSE(t, r); ev.id != want || ev.name != "clock" {
			t.Errorf("Expected replayed id %d, got %+v", want, ev)
		}
	}
}

func TestServeSSEHeartbeat(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	hub := newTestHub(clk)
	defer hub.Stop()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeSSE(w, r)
	}))
	defer srv.Close()

	r, closeFn := openSSE(t, srv.URL, 0)
	defer closeFn()
	readSSE(t, r) // ready

	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	if ev := readSSE(t, r); ev.name != TypeHeartbeat {
		t.Errorf("Expected event heartbeat, got %+v", ev)
	}
}
