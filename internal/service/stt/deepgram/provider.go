// Package deepgram streams call audio to Deepgram's live transcription
// websocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"ai-voice-call-service/internal/service/stt"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	UtteranceEndMs int
}

// Provider implements stt.Provider for Deepgram.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *Provider) Name() string { return "deepgram" }

// Connect dials the listen endpoint. The returned connection is synchronous:
// Send writes a binary frame and Recv reads the next JSON message.
func (p *Provider) Connect(ctx context.Context, opts stt.StreamOptions) (stt.Connection, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("deepgram API key is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}
	return &connection{conn: conn}, nil
}

type connection struct {
	conn *websocket.Conn

	writeMu       sync.Mutex
	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func (c *connection) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (c *connection) CloseSend() error {
	var err error
	c.closeSendOnce.Do(func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if e := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); e != nil {
			err = fmt.Errorf("failed to close stream: %w", e)
		}
	})
	return err
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *connection) Recv() (*stt.Message, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		if isNormalClose(err) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read provider event: %w", err)
	}

	var response deepgramResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, &stt.ParseError{Raw: string(payload), Err: err}
	}
	return response.toMessage()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`
}

func (r deepgramResponse) toMessage() (*stt.Message, error) {
	switch {
	case strings.EqualFold(r.Type, "Error"):
		message := strings.TrimSpace(r.Message)
		if message == "" {
			message = strings.TrimSpace(r.Description)
		}
		if message == "" {
			message = "deepgram returned an unknown error"
		}
		return nil, errors.New(message)
	case strings.EqualFold(r.Type, "UtteranceEnd"):
		return &stt.Message{Type: r.Type, IsFinal: true, SpeechFinal: true}, nil
	}

	msg := &stt.Message{
		Type:        r.Type,
		IsFinal:     r.IsFinal,
		SpeechFinal: r.SpeechFinal,
	}
	for _, alt := range r.Channel.Alternatives {
		msg.Channel.Alternatives = append(msg.Channel.Alternatives, stt.Alternative{
			Transcript: alt.Transcript,
			Confidence: alt.Confidence,
		})
	}
	return msg, nil
}

func buildListenURL(providerCfg Config, streamCfg stt.StreamOptions) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}
	model := providerCfg.Model
	if streamCfg.Model != "" {
		model = streamCfg.Model
	}
	language := providerCfg.Language
	if streamCfg.Language != "" {
		language = streamCfg.Language
	}

	query := listenURL.Query()
	query.Set("model", model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if language != "" {
		query.Set("language", language)
	}
	if providerCfg.UtteranceEndMs > 0 && streamCfg.InterimResults {
		query.Set("utterance_end_ms", fmt.Sprintf("%d", providerCfg.UtteranceEndMs))
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
