// Command callclient plays a WAV file into the voice call service the way a
// telephony gateway would: 8kHz mu-law over a websocket, in real time.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-call-service/internal/schema"
	"ai-voice-call-service/internal/service/audio"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

const chunkMs = 20

var gateway = audio.SourceFormat{Encoding: audio.EncodingMulaw, SampleRate: 8000, Channels: 1}

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (16-bit PCM)")
	server := flag.String("server", "ws://localhost:8080/v1/calls/stream", "Call stream URL")
	callID := flag.String("call", "CA-"+time.Now().Format("150405"), "Call ID")
	from := flag.String("from", "+15550100", "Caller number")
	wait := flag.Duration("wait", 5*time.Second, "How long to listen for replies after the audio ends")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	src, pcm, err := readWAV(*audioFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *audioFile).Msg("Failed to read audio")
	}
	payload, err := audio.Convert(pcm, src, gateway)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to encode audio as mu-law")
	}
	logger.Info().
		Int("sampleRate", src.SampleRate).
		Int("channels", src.Channels).
		Int("bytes", len(payload)).
		Msg("Loaded WAV file")

	u, err := url.Parse(*server)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid server URL")
	}
	q := u.Query()
	q.Set("call_id", *callID)
	q.Set("from", *from)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Fatal().Err(err).Str("url", u.String()).Msg("Failed to connect")
	}
	defer conn.Close()
	logger.Info().Str("callId", *callID).Msg("Connected")

	var audioBack atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				audioBack.Add(int64(len(data)))
				continue
			}
			printMessage(logger, data)
		}
	}()

	start, _ := json.Marshal(map[string]any{
		"type":        schema.TypeStart,
		"call_id":     *callID,
		"encoding":    string(gateway.Encoding),
		"sample_rate": gateway.SampleRate,
		"channels":    gateway.Channels,
	})
	if err := conn.WriteMessage(websocket.TextMessage, start); err != nil {
		logger.Fatal().Err(err).Msg("Failed to send start")
	}

	// Trailing silence lets the recognizer close the last utterance.
	silence := make([]byte, gateway.SampleRate)
	for i := range silence {
		silence[i] = 0xFF
	}
	payload = append(payload, silence...)

	chunk := gateway.SampleRate * chunkMs / 1000
	ticker := time.NewTicker(chunkMs * time.Millisecond)
	defer ticker.Stop()
	startTime := time.Now()
	for off := 0; off < len(payload); off += chunk {
		end := min(off+chunk, len(payload))
		if err := conn.WriteMessage(websocket.BinaryMessage, payload[off:end]); err != nil {
			logger.Fatal().Err(err).Msg("Failed to send audio")
		}
		<-ticker.C
	}
	logger.Info().Dur("elapsed", time.Since(startTime)).Msg("Finished streaming, waiting for replies")

	select {
	case <-done:
	case <-time.After(*wait):
	}

	stop, _ := json.Marshal(map[string]string{"type": schema.TypeStop})
	_ = conn.WriteMessage(websocket.TextMessage, stop)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	logger.Info().Int64("audioBytes", audioBack.Load()).Msg("Call finished")
}

func printMessage(logger zerolog.Logger, data []byte) {
	var msg schema.Outbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Str("raw", string(data)).Msg("Unreadable message")
		return
	}
	switch msg.Type {
	case schema.TypeTranscript:
		ev := logger.Debug()
		if msg.IsFinal {
			ev = logger.Info()
		}
		ev.Bool("final", msg.IsFinal).Float64("confidence", msg.Confidence).Msg("Caller: " + msg.Text)
	case schema.TypeResponse:
		logger.Info().Msg("Assistant: " + msg.Text)
	case schema.TypeEscalate:
		logger.Warn().Str("reason", msg.Reason).Msg("Call escalated")
	default:
		logger.Info().Str("type", msg.Type).Str("sessionId", msg.SessionID).Msg("Control message")
	}
}

// readWAV returns the format and 16-bit PCM body of a canonical WAV file.
func readWAV(path string) (audio.Config, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Config{}, nil, err
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return audio.Config{}, nil, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return audio.Config{}, nil, fmt.Errorf("not a WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	if audioFormat != 1 || bitsPerSample != 16 {
		return audio.Config{}, nil, fmt.Errorf("only 16-bit PCM is supported (format=%d bits=%d)", audioFormat, bitsPerSample)
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return audio.Config{}, nil, err
	}
	cfg := audio.Config{
		SampleRate:      int(sampleRate),
		Channels:        int(numChannels),
		SampleWidth:     2,
		FrameDurationMs: chunkMs,
	}
	return cfg, body[:len(body)/2*2], nil
}
