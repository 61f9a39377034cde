package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/pullpay/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientWants_TypeFilter(t *testing.T) {
	c := &Client{sub: Subscription{EventTypes: []events.Type{events.TypeUserDebited}}}

	if !c.wants(&events.Event{Type: events.TypeUserDebited}) {
		t.Error("matching type filtered out")
	}
	if c.wants(&events.Event{Type: events.TypeManagerUpdated}) {
		t.Error("non-matching type passed")
	}
}

func TestClientWants_MerchantFilter(t *testing.T) {
	c := &Client{sub: Subscription{Merchants: []uint64{7}}}

	if !c.wants(&events.Event{Type: events.TypeUserDebited, Data: map[string]any{"merchant": uint64(7)}}) {
		t.Error("matching merchant filtered out")
	}
	if c.wants(&events.Event{Type: events.TypeUserDebited, Data: map[string]any{"merchant": uint64(8)}}) {
		t.Error("other merchant passed")
	}
	// Events without a merchant field never match a merchant filter.
	if c.wants(&events.Event{Type: events.TypeAdminUpdated}) {
		t.Error("merchant-less event passed a merchant filter")
	}
}

func TestClientWants_ZeroSubscription(t *testing.T) {
	c := &Client{}

	if !c.wants(&events.Event{Type: events.TypeAdminUpdated}) {
		t.Error("zero subscription must pass everything")
	}
}

func TestEventMerchant(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		want uint64
		ok   bool
	}{
		{"uint64", map[string]any{"merchant": uint64(3)}, 3, true},
		{"float64 from json", map[string]any{"merchant": float64(4)}, 4, true},
		{"missing", map[string]any{}, 0, false},
		{"wrong type", map[string]any{"merchant": "5"}, 0, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := eventMerchant(&events.Event{Data: tt.data})
			if got != tt.want || ok != tt.ok {
				t.Errorf("got (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestHub_DeliversEvents(t *testing.T) {
	hub := NewHub(discardLogger())
	dispatcher := events.NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, dispatcher)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for registration before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats()["connectedClients"].(int) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	dispatcher.Emit(events.TypeUserDebited, map[string]any{"merchant": uint64(1), "amount": uint64(25)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != events.TypeUserDebited {
		t.Errorf("type = %s, want %s", ev.Type, events.TypeUserDebited)
	}
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	hub := NewHub(discardLogger())
	dispatcher := events.NewDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, dispatcher)
	cancel()
	<-hub.done

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/v1/ws", nil)
	hub.HandleWebSocket(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHub_MaxClients(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.maxClients = 0

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/v1/ws", nil)
	hub.HandleWebSocket(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
