package call

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-call-service/internal/models"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/schema"
	"ai-voice-call-service/internal/service/audio"
	"ai-voice-call-service/internal/service/collab"
	"ai-voice-call-service/internal/service/session"
	"ai-voice-call-service/internal/service/stt"
)

// onTranscript relays a transcript to the gateway and, for finals, collects
// the text of the current utterance.
func (c *call) onTranscript(ctx context.Context, r stt.TranscriptResult) error {
	if r.Text != "" {
		c.sess.CountTranscript()
		if err := c.send(schema.Outbound{
			Type:       schema.TypeTranscript,
			SessionID:  c.sess.ID,
			Text:       r.Text,
			IsFinal:    r.IsFinal,
			Confidence: r.Confidence,
		}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to relay transcript")
		}
		c.publishTranscript(ctx, r)
	}

	if !r.IsFinal && !r.SpeechFinal {
		return nil
	}

	if r.IsFinal && r.Text != "" {
		c.sess.AddTranscript(session.TranscriptEntry{Text: r.Text, Confidence: r.Confidence, Timestamp: r.Timestamp})
		c.pending = append(c.pending, r.Text)
	}

	if r.SpeechFinal {
		c.stopGapTimer()
		return c.finishUtterance(ctx)
	}
	if len(c.pending) > 0 && c.o.cfg.UtteranceGap > 0 {
		c.stopGapTimer()
		c.gapTimer = time.NewTimer(c.o.cfg.UtteranceGap)
	}
	return nil
}

func (c *call) publishTranscript(ctx context.Context, r stt.TranscriptResult) {
	if c.o.publisher == nil {
		return
	}
	eventType := models.EventTranscriptPartial
	if r.IsFinal {
		eventType = models.EventTranscriptFinal
	}
	ev := models.TranscriptEvent{
		EventType:   eventType,
		SessionID:   c.sess.ID,
		CallID:      c.sess.CallID,
		Timestamp:   r.Timestamp.UnixMilli(),
		Text:        r.Text,
		Confidence:  r.Confidence,
		SpeechFinal: r.SpeechFinal,
	}
	if err := c.o.publisher.PublishTranscript(ctx, ev); err != nil {
		c.logger.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish transcript event")
	}
}

// finishUtterance answers whatever final text has been collected.
func (c *call) finishUtterance(ctx context.Context) error {
	text := strings.TrimSpace(strings.Join(c.pending, " "))
	c.pending = c.pending[:0]
	if text == "" {
		return nil
	}
	return c.respond(ctx, text)
}

func (c *call) respond(ctx context.Context, text string) error {
	started := time.Now()
	turnID := c.sess.NextTurnID()
	logger := logging.WithTurn(c.logger, turnID)

	c.sess.AddTurn(session.Turn{ID: turnID, Role: session.RoleCaller, Content: text, Timestamp: started})

	ev := models.TurnEvent{
		EventType:  models.EventTurn,
		SessionID:  c.sess.ID,
		CallID:     c.sess.CallID,
		TurnID:     turnID,
		Timestamp:  started.UnixMilli(),
		CallerText: text,
	}

	intent := collab.Intent{Name: collab.IntentUnknown}
	classifier, err := c.o.services.Classifier(ctx)
	if err == nil {
		intent, err = classifier.Classify(ctx, text)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Intent classification failed")
		intent = collab.Intent{Name: collab.IntentUnknown}
	}
	c.sess.SetIntent(intent.Name, intent.Confidence)
	ev.Intent = intent.Name
	ev.IntentConfidence = intent.Confidence

	switch {
	case intent.Name == collab.IntentComplaint || intent.Name == collab.IntentEscalation:
		c.escalate(logger, "intent:"+intent.Name)
	case intent.Confidence < c.o.cfg.EscalationConfidence:
		c.escalate(logger, "low_confidence")
	}

	reply, genErr := c.generate(ctx, text, intent)
	if genErr != nil {
		logger.Warn().Err(genErr).Msg("Response generation failed")
		reply = c.o.cfg.Apology
		c.escalate(logger, "generation_failed")
	}
	ev.Response = reply
	responseDone := time.Now()

	c.sess.AddTurn(session.Turn{
		ID:        c.sess.NextTurnID(),
		Role:      session.RoleAssistant,
		Content:   reply,
		Intent:    intent.Name,
		Timestamp: responseDone,
	})

	var speakErr error
	if reply != "" {
		speakErr = c.speak(ctx, reply)
		if speakErr != nil {
			logger.Warn().Err(speakErr).Msg("Failed to speak response")
		}
	}
	finished := time.Now()

	ev.Escalated = c.sess.ShouldEscalate()
	ev.ResponseMs = responseDone.Sub(started).Milliseconds()
	ev.SynthesisMs = finished.Sub(responseDone).Milliseconds()
	c.o.metrics.RecordTurn(responseDone.Sub(started).Seconds(), finished.Sub(responseDone).Seconds())

	logger.Info().
		Str("intent", intent.Name).
		Float64("confidence", intent.Confidence).
		Bool("escalated", ev.Escalated).
		Int64("responseMs", ev.ResponseMs).
		Msg("Turn complete")

	if c.o.publisher != nil {
		if err := c.o.publisher.PublishTurn(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish turn event")
		}
	}

	if genErr != nil {
		return genErr
	}
	return speakErr
}

func (c *call) generate(ctx context.Context, text string, intent collab.Intent) (string, error) {
	gen, err := c.o.services.Generator(ctx)
	if err != nil {
		return "", err
	}
	return gen.GenerateResponse(ctx, text, map[string]any{
		"session_id":        c.sess.ID,
		"call_id":           c.sess.CallID,
		"intent":            intent.Name,
		"intent_confidence": intent.Confidence,
		"history":           c.sess.History(),
		"should_escalate":   c.sess.ShouldEscalate(),
	})
}

// escalate flags the call for a human and tells the gateway, once.
func (c *call) escalate(logger zerolog.Logger, reason string) {
	if !c.sess.Escalate(reason) {
		return
	}
	c.o.metrics.RecordEscalation(reason)
	logger.Info().Str("reason", reason).Msg("Call flagged for escalation")
	if err := c.send(schema.Outbound{Type: schema.TypeEscalate, SessionID: c.sess.ID, Reason: reason}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send escalation")
	}
}

// speak synthesizes text and streams it to the gateway in its own media
// format, one frame duration per binary message.
func (c *call) speak(ctx context.Context, text string) error {
	synth, err := c.o.services.Synthesizer(ctx)
	if err != nil {
		return err
	}
	pcm, err := synth.SynthesizeSpeech(ctx, text)
	if err != nil {
		return err
	}
	out, err := audio.Convert(pcm, c.o.cfg.Audio, c.media)
	if err != nil {
		return fmt.Errorf("failed to convert synthesized audio: %w", err)
	}

	if err := c.send(schema.Outbound{
		Type:       schema.TypeResponse,
		SessionID:  c.sess.ID,
		Text:       text,
		Encoding:   string(c.media.Encoding),
		SampleRate: c.media.SampleRate,
		Channels:   c.media.Channels,
	}); err != nil {
		return err
	}

	chunk := c.media.SampleRate * c.o.cfg.Audio.FrameDurationMs / 1000 * c.media.Channels * c.media.Encoding.BytesPerSample()
	if chunk <= 0 {
		chunk = len(out)
	}
	frames := 0
	for off := 0; off < len(out); off += chunk {
		end := off + chunk
		if end > len(out) {
			end = len(out)
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, out[off:end]); err != nil {
			c.sess.AddFramesSent(frames)
			return err
		}
		frames++
	}
	c.sess.AddFramesSent(frames)
	c.o.metrics.RecordAudioSent(len(out))
	return nil
}
