package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sim-control/simbridge/internal/clock"
)

// Event is one message on the bus.
type Event struct {
	ID    int64     `json:"id,omitempty"`
	Topic string    `json:"topic,omitempty"`
	Type  string    `json:"type"`
	Stamp time.Time `json:"stamp"`
	Data  any       `json:"data"`
}

// Event types.
const (
	TypeMessage   = "message"
	TypeReady     = "ready"
	TypeHeartbeat = "heartbeat"
)

// Options configures a Hub.
type Options struct {
	// BufferSize is the replay depth per topic.
	BufferSize int

	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration

	// SubscriberQueue is the channel depth of each subscriber.
	SubscriberQueue int

	Clock  clock.Clock
	Logger *slog.Logger
}

type topicState struct {
	mu     sync.Mutex
	nextID int64
	buffer *EventBuffer
}

// Hub fans events out to subscribers.
//
// Lock ordering: topicState.mu, then h.mu. EventBuffer has its own
// mutex and never calls back into the hub.
type Hub struct {
	opts Options

	mu      sync.RWMutex
	subs    map[string]*Subscription
	topics  map[string]*topicState
	sseSubs int

	heartbeatStop chan struct{}
	dropped       atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub. Zero option values get defaults.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 50
	}
	if opts.SubscriberQueue <= 0 {
		opts.SubscriberQueue = 100
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		opts:   opts,
		subs:   make(map[string]*Subscription),
		topics: make(map[string]*topicState),
		done:   make(chan struct{}),
	}
}

// Publish sends data on topic and returns the stamped event. It never
// blocks on subscribers.
func (h *Hub) Publish(topic string, data any) Event {
	return h.PublishAt(topic, h.opts.Clock.Now(), data)
}

// PublishAt is Publish with an explicit stamp, e.g. simulator time.
func (h *Hub) PublishAt(topic string, stamp time.Time, data any) Event {
	ts := h.topic(topic)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.nextID++
	event := Event{
		ID:    ts.nextID,
		Topic: topic,
		Type:  TypeMessage,
		Stamp: stamp,
		Data:  data,
	}
	ts.buffer.AddEvent(event)

	select {
	case <-h.done:
		return event
	default:
	}

	h.mu.RLock()
	for _, sub := range h.subs {
		if sub.wants(topic) {
			h.deliver(sub, event)
		}
	}
	h.mu.RUnlock()
	return event
}

// deliver does a non-blocking send. Caller holds h.mu for reading.
func (h *Hub) deliver(sub *Subscription, event Event) {
	select {
	case sub.events <- event:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) topic(name string) *topicState {
	h.mu.RLock()
	ts, ok := h.topics[name]
	h.mu.RUnlock()
	if ok {
		return ts
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ts, ok = h.topics[name]; !ok {
		ts = &topicState{buffer: NewEventBuffer(h.opts.BufferSize)}
		h.topics[name] = ts
	}
	return ts
}

// Latest returns the most recent event on topic.
func (h *Hub) Latest(topic string) (Event, bool) {
	h.mu.RLock()
	ts, ok := h.topics[topic]
	h.mu.RUnlock()
	if !ok {
		return Event{}, false
	}
	return ts.buffer.Last()
}

// Topics lists every topic published so far, sorted.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.topics))
	for name := range h.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dropped counts events discarded for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Subscription is an in-process consumer.
type Subscription struct {
	id        string
	topics    map[string]bool
	heartbeat bool
	events    chan Event
	hub       *Hub
	once      sync.Once
}

// Subscribe registers a consumer of topics. No topics means all.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	return h.subscribe(topics, false)
}

func (h *Hub) subscribe(topics []string, heartbeat bool) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		heartbeat: heartbeat,
		events:    make(chan Event, h.opts.SubscriberQueue),
		hub:       h,
	}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Events returns the delivery channel. It is closed by Close or Stop.
func (s *Subscription) Events() <-chan Event { return s.events }

// ID identifies the subscription.
func (s *Subscription) ID() string { return s.id }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		close(s.events)
		s.hub.mu.Unlock()
	})
}

func (s *Subscription) wants(topic string) bool {
	if topic == "" {
		return s.heartbeat
	}
	return s.topics == nil || s.topics[topic]
}

// ServeSSE streams events to an HTTP client until it disconnects or
// the hub stops. Topics come from the repeatable, comma-separated
// "topic" query parameter. Last-Event-ID resume is honoured when
// exactly one topic is requested, since ids are per topic.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	topics := parseTopics(r)
	sub := h.subscribe(topics, true)
	h.sseStarted()
	defer func() {
		sub.Close()
		h.sseStopped()
	}()

	ready := Event{
		Type:  TypeReady,
		Stamp: h.opts.Clock.Now(),
		Data: map[string]any{
			"client": sub.id,
			"topics": h.Topics(),
		},
	}
	if err := writeEvent(w, flusher, ready); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastID := parseLastEventID(r); lastID > 0 && len(topics) == 1 {
		h.mu.RLock()
		ts, ok := h.topics[topics[0]]
		h.mu.RUnlock()
		if ok {
			for _, event := range ts.buffer.GetEventsAfter(lastID) {
				if err := writeEvent(w, flusher, event); err != nil {
					return fmt.Errorf("failed to replay events: %w", err)
				}
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event, ok := <-sub.events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, flusher, event); err != nil {
				return err
			}
		}
	}
}

func parseTopics(r *http.Request) []string {
	var topics []string
	for _, v := range r.URL.Query()["topic"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	return topics
}

func parseLastEventID(r *http.Request) int64 {
	if s := r.Header.Get("Last-Event-ID"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	name := event.Type
	if event.Type == TypeMessage {
		name = event.Topic
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}
	flusher.Flush()
	return nil
}

func (h *Hub) sseStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sseSubs++
	if h.sseSubs == 1 && h.heartbeatStop == nil {
		h.startHeartbeat()
	}
}

func (h *Hub) sseStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sseSubs--
	if h.sseSubs == 0 && h.heartbeatStop != nil {
		close(h.heartbeatStop)
		h.heartbeatStop = nil
	}
}

// startHeartbeat runs until the last SSE client leaves. Caller holds
// h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.opts.HeartbeatInterval + h.opts.HeartbeatJitter/2
	ticker := h.opts.Clock.NewTicker(interval)
	stop := make(chan struct{})
	h.heartbeatStop = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) sendHeartbeat() {
	event := Event{
		Type:  TypeHeartbeat,
		Stamp: h.opts.Clock.Now(),
		Data:  map[string]any{"ts": h.opts.Clock.Now().UTC().Format(time.RFC3339)},
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.heartbeat {
			h.deliver(sub, event)
		}
	}
}

// Stop ends every SSE stream, closes every subscription and waits for
// the heartbeat goroutine.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		if h.heartbeatStop != nil {
			close(h.heartbeatStop)
			h.heartbeatStop = nil
		}
		subs := make([]*Subscription, 0, len(h.subs))
		for _, sub := range h.subs {
			subs = append(subs, sub)
		}
		h.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
			h.opts.Logger.Warn("telemetry hub stop timed out waiting for heartbeat")
		}
	})
}

// Done is closed when Stop begins.
func (h *Hub) Done() <-chan struct{} { return h.done }
