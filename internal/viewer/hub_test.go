package viewer

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Event
		wantErr bool
	}{
		{
			name:  "transcript",
			value: `{"eventType":"call.transcript.final","sessionId":"s1","callId":"CA1","text":"hi"}`,
			want:  Event{Topic: "call.transcripts", EventType: "call.transcript.final", SessionID: "s1", CallID: "CA1"},
		},
		{
			name:  "call ended without session",
			value: `{"eventType":"call.ended","callId":"CA2"}`,
			want:  Event{Topic: "call.transcripts", EventType: "call.ended", CallID: "CA2"},
		},
		{name: "not json", value: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode("call.transcripts", []byte(tt.value))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Topic != tt.want.Topic || got.EventType != tt.want.EventType || got.SessionID != tt.want.SessionID || got.CallID != tt.want.CallID {
				t.Errorf("Decode = %+v, want %+v", got, tt.want)
			}
			if string(got.Payload) != tt.value {
				t.Errorf("payload = %s", got.Payload)
			}
		})
	}
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Clients() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", h.Clients(), n)
}

func TestHub_BroadcastsToViewers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conns = append(conns, c)
	}
	waitClients(t, hub, 2)

	ev, _ := Decode("call.turns", []byte(`{"eventType":"call.turn","callId":"CA9"}`))
	if !hub.Publish(ev) {
		t.Fatal("Publish dropped the event")
	}

	for i, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		if err := c.ReadJSON(&got); err != nil {
			t.Fatalf("viewer %d: %v", i, err)
		}
		if got.EventType != "call.turn" || got.CallID != "CA9" || got.Topic != "call.turns" {
			t.Errorf("viewer %d got %+v", i, got)
		}
	}

	conns[0].Close()
	waitClients(t, hub, 1)
	conns[1].Close()
	waitClients(t, hub, 0)
}

func TestHub_PublishDropsWhenBackedUp(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	for i := 0; i < cap(hub.broadcast); i++ {
		if !hub.Publish(Event{}) {
			t.Fatalf("event %d dropped before the buffer filled", i)
		}
	}
	if hub.Publish(Event{}) {
		t.Error("expected a drop with no hub running")
	}
}
