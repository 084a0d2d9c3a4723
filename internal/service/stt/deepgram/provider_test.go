package deepgram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"ai-voice-call-service/internal/service/stt"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
}

func TestProviderConnectRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{APIKey: ""})
	if _, err := p.Connect(context.Background(), stt.StreamOptions{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	u, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, stt.StreamOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"wss://api.deepgram.com/v1/listen", "encoding=linear16", "sample_rate=16000", "channels=1", "model=nova-2"} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in url: %s", want, u)
		}
	}
	if strings.Contains(u, "utterance_end_ms") {
		t.Fatalf("utterance_end_ms requires interim results: %s", u)
	}
}

func TestBuildListenURLStreamOverrides(t *testing.T) {
	t.Parallel()

	u, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true, UtteranceEndMs: 1000},
		stt.StreamOptions{Model: "nova-2-phonecall", Language: "en-GB", Encoding: "linear16", SampleRate: 8000, Channels: 1, InterimResults: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"ws://localhost:8080/v1/listen", "model=nova-2-phonecall", "language=en-GB", "smart_format=true", "sample_rate=8000", "utterance_end_ms=1000"} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected %q in url: %s", want, u)
		}
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildListenURL(Config{APIBaseURL: ":// bad"}, stt.StreamOptions{}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestResponseToMessage(t *testing.T) {
	t.Parallel()

	var r deepgramResponse
	r.Type = "Results"
	r.IsFinal = true
	r.SpeechFinal = true
	r.Channel.Alternatives = []deepgramAlternative{{Transcript: "a table for two", Confidence: 0.93}}

	msg, err := r.toMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.SpeechFinal || msg.Channel.Alternatives[0].Transcript != "a table for two" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := (deepgramResponse{Type: "Error", Description: "bad audio"}).toMessage(); err == nil || err.Error() != "bad audio" {
		t.Fatalf("expected provider error, got %v", err)
	}

	end, err := (deepgramResponse{Type: "UtteranceEnd"}).toMessage()
	if err != nil || !end.SpeechFinal {
		t.Fatalf("expected utterance end to mark speech final: %+v, %v", end, err)
	}
}

// fakeListenServer accepts audio and answers CloseStream with one final result.
func fakeListenServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frames := 0
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				frames++
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"what time do you open","confidence":0.88}]}}`))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func TestConnection_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := fakeListenServer(t)
	defer srv.Close()

	p := NewProvider(Config{APIKey: "test-key", APIBaseURL: srv.URL})
	conn, err := p.Connect(context.Background(), stt.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(make([]byte, 640)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conn.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	_, err = conn.Recv()
	var pe *stt.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError for malformed message, got %v", err)
	}

	msg, err := conn.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !msg.IsFinal || msg.Channel.Alternatives[0].Transcript != "what time do you open" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := conn.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after normal close, got %v", err)
	}
}

func TestConnectRejectedWithoutValidKey(t *testing.T) {
	t.Parallel()

	srv := fakeListenServer(t)
	defer srv.Close()

	p := NewProvider(Config{APIKey: "wrong", APIBaseURL: srv.URL})
	if _, err := p.Connect(context.Background(), stt.StreamOptions{}); err == nil {
		t.Fatal("expected handshake failure")
	}
}
