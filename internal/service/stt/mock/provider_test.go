package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"ai-voice-call-service/internal/service/stt"
)

func loudFrame() []byte {
	f := make([]byte, 640)
	for i := 0; i < len(f)/2; i++ {
		v := int16(12000)
		if i%2 == 1 {
			v = -12000
		}
		binary.LittleEndian.PutUint16(f[i*2:], uint16(v))
	}
	return f
}

func silentFrame() []byte {
	return make([]byte, 640)
}

// drain collects messages until the stream ends.
func drain(t *testing.T, conn stt.Connection) []*stt.Message {
	t.Helper()
	var out []*stt.Message
	for {
		msg, err := conn.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		out = append(out, msg)
	}
}

func connect(t *testing.T, p *Provider) stt.Connection {
	t.Helper()
	conn, err := p.Connect(context.Background(), stt.StreamOptions{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn
}

func TestConnection_SpeechThenSilenceProducesOneFinal(t *testing.T) {
	p := New(Config{FramesPerPartial: 2, EndSilenceFrames: 3})
	conn := connect(t, p)
	defer conn.Close()

	for i := 0; i < 6; i++ {
		if err := conn.Send(loudFrame()); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		conn.Send(silentFrame())
	}
	conn.CloseSend()

	msgs := drain(t, conn)

	var partials, finals int
	for _, m := range msgs {
		if m.IsFinal {
			finals++
			if !m.SpeechFinal {
				t.Error("final must mark end of speech")
			}
			if got := m.Channel.Alternatives[0].Transcript; got != DefaultUtterances[0].Final {
				t.Errorf("final = %q, want %q", got, DefaultUtterances[0].Final)
			}
		} else {
			partials++
		}
	}
	if partials != 3 {
		t.Errorf("expected 3 partials, got %d", partials)
	}
	if finals != 1 {
		t.Errorf("expected exactly 1 final, got %d", finals)
	}
}

func TestConnection_SilenceProducesNothing(t *testing.T) {
	conn := connect(t, New(Config{}))
	defer conn.Close()

	for i := 0; i < 50; i++ {
		conn.Send(silentFrame())
	}
	conn.CloseSend()

	if msgs := drain(t, conn); len(msgs) != 0 {
		t.Fatalf("expected no transcripts for silence, got %d", len(msgs))
	}
}

func TestConnection_CloseSendFlushesUtterance(t *testing.T) {
	conn := connect(t, New(Config{FramesPerPartial: 100}))
	defer conn.Close()

	conn.Send(loudFrame())
	conn.CloseSend()

	msgs := drain(t, conn)
	if len(msgs) != 1 || !msgs[0].IsFinal {
		t.Fatalf("expected a single final on close, got %+v", msgs)
	}
	if err := conn.Send(loudFrame()); err == nil {
		t.Error("expected Send after CloseSend to fail")
	}
}

func TestProvider_CyclesUtterancesPerConnection(t *testing.T) {
	p := New(Config{FramesPerPartial: 100})

	finalOf := func() string {
		conn := connect(t, p)
		defer conn.Close()
		conn.Send(loudFrame())
		conn.CloseSend()
		msgs := drain(t, conn)
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		return msgs[0].Channel.Alternatives[0].Transcript
	}

	first, second := finalOf(), finalOf()
	if first != DefaultUtterances[0].Final || second != DefaultUtterances[1].Final {
		t.Errorf("got %q then %q", first, second)
	}
}

func TestProvider_ConnectError(t *testing.T) {
	p := New(Config{ConnectErr: errors.New("unavailable")})
	if _, err := p.Connect(context.Background(), stt.StreamOptions{}); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestConnection_CloseUnblocksRecv(t *testing.T) {
	conn := connect(t, New(Config{}))

	done := make(chan error, 1)
	go func() {
		_, err := conn.Recv()
		done <- err
	}()

	conn.Close()
	if err := <-done; !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after Close, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
