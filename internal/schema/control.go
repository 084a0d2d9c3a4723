// Package schema defines and validates the JSON control messages exchanged
// with the telephony gateway over the call websocket. Audio travels as binary
// messages; everything else is a text message with a "type" field.
package schema

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-voice-call-service/internal/service/audio"
)

// Inbound message types.
const (
	TypeStart       = "start"
	TypeStop        = "stop"
	TypeMediaConfig = "media_config"
	TypeMedia       = "media"
	TypeError       = "error"
	TypeKeepalive   = "keepalive"
)

// Outbound message types.
const (
	TypeConnected  = "connected"
	TypeTranscript = "transcript"
	TypeResponse   = "response"
	TypeEscalate   = "escalate"
)

var (
	ErrMissingType = errors.New("control message has no type")
	ErrUnknownType = errors.New("unknown control message type")
)

// ValidationError reports a malformed control message.
type ValidationError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid control message: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %q control message: %s", e.Type, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Control is an inbound text message.
type Control struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Payload    string `json:"payload,omitempty"` // base64 audio, "media" only
	Message    string `json:"message,omitempty"` // "error" only
}

// Parse decodes and validates a control message.
func Parse(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, &ValidationError{Reason: "malformed JSON", Err: err}
	}
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if err := c.Validate(); err != nil {
		return Control{}, err
	}
	return c, nil
}

// Validate checks the fields required by the message type.
func (c Control) Validate() error {
	switch c.Type {
	case "":
		return &ValidationError{Reason: "missing type", Err: ErrMissingType}
	case TypeStop, TypeKeepalive, TypeError:
		return nil
	case TypeStart, TypeMediaConfig:
		if c.Encoding != "" {
			if _, err := audio.ParseEncoding(c.Encoding); err != nil {
				return &ValidationError{Type: c.Type, Reason: "unsupported encoding " + c.Encoding, Err: err}
			}
		}
		if c.SampleRate < 0 || c.Channels < 0 {
			return &ValidationError{Type: c.Type, Reason: "negative sample rate or channel count"}
		}
		if c.SampleRate != 0 && (c.SampleRate < audio.MinSourceSampleRate || c.SampleRate > audio.MaxSourceSampleRate) {
			return &ValidationError{
				Type:   c.Type,
				Reason: fmt.Sprintf("sample rate %d outside %d-%d Hz", c.SampleRate, audio.MinSourceSampleRate, audio.MaxSourceSampleRate),
				Err:    audio.ErrSourceFormatRange,
			}
		}
		if c.Channels > audio.MaxSourceChannels {
			return &ValidationError{
				Type:   c.Type,
				Reason: fmt.Sprintf("%d channels, at most %d supported", c.Channels, audio.MaxSourceChannels),
				Err:    audio.ErrSourceFormatRange,
			}
		}
		if c.Type == TypeMediaConfig && c.Encoding == "" && c.SampleRate == 0 && c.Channels == 0 {
			return &ValidationError{Type: c.Type, Reason: "no media fields"}
		}
		return nil
	case TypeMedia:
		if c.Payload == "" {
			return &ValidationError{Type: c.Type, Reason: "empty payload"}
		}
		return nil
	default:
		return &ValidationError{Type: c.Type, Reason: "unknown type", Err: ErrUnknownType}
	}
}

// HasMedia reports whether the message carries any media format field.
func (c Control) HasMedia() bool {
	return c.Encoding != "" || c.SampleRate != 0 || c.Channels != 0
}

// SourceFormat overlays the message's media fields on current.
func (c Control) SourceFormat(current audio.SourceFormat) (audio.SourceFormat, error) {
	f := current
	if c.Encoding != "" {
		enc, err := audio.ParseEncoding(c.Encoding)
		if err != nil {
			return current, err
		}
		f.Encoding = enc
	}
	if c.SampleRate > 0 {
		f.SampleRate = c.SampleRate
	}
	if c.Channels > 0 {
		f.Channels = c.Channels
	}
	if err := f.Validate(); err != nil {
		return current, err
	}
	return f, nil
}

// Audio decodes the base64 payload of a "media" message.
func (c Control) Audio() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(c.Payload)
	if err != nil {
		return nil, &ValidationError{Type: c.Type, Reason: "payload is not base64", Err: err}
	}
	return b, nil
}

// Outbound is a text message sent to the gateway.
type Outbound struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Intent     string  `json:"intent,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Encoding   string  `json:"encoding,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
}

// Marshal encodes the message.
func (o Outbound) Marshal() ([]byte, error) {
	return json.Marshal(o)
}
