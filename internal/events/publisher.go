// Package events publishes call events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-call-service/internal/models"
	"ai-voice-call-service/internal/observability/metrics"
)

// Publisher publishes transcript, lifecycle and turn events to separate
// Kafka topics. Without brokers it runs in log-only mode.
type Publisher struct {
	writerTranscripts *kafka.Writer
	writerCalls       *kafka.Writer
	writerTurns       *kafka.Writer
	principal         string
	topicTranscripts  string
	topicCalls        string
	topicTurns        string
	enabled           bool
	metrics           *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers          []string
	TopicTranscripts string
	TopicCalls       string
	TopicTurns       string
	Principal        string
	Enabled          bool
	Metrics          *metrics.Metrics
}

// New creates a publisher with one writer per topic.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}

	p := &Publisher{
		principal:        cfg.Principal,
		topicTranscripts: cfg.TopicTranscripts,
		topicCalls:       cfg.TopicCalls,
		topicTurns:       cfg.TopicTurns,
		metrics:          m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerTranscripts = newWriter(cfg.Brokers, cfg.TopicTranscripts, transport)
	p.writerCalls = newWriter(cfg.Brokers, cfg.TopicCalls, transport)
	p.writerTurns = newWriter(cfg.Brokers, cfg.TopicTurns, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscripts", cfg.TopicTranscripts).
		Str("topicCalls", cfg.TopicCalls).
		Str("topicTurns", cfg.TopicTurns).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keep one call's events on one partition
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript publishes a partial or final transcript, keyed by call id.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error {
	return p.publish(ctx, p.writerTranscripts, p.topicTranscripts, ev.EventType, ev.CallID, ev)
}

// PublishCallEvent publishes a call lifecycle event, keyed by call id.
func (p *Publisher) PublishCallEvent(ctx context.Context, ev models.CallEvent) error {
	return p.publish(ctx, p.writerCalls, p.topicCalls, ev.EventType, ev.CallID, ev)
}

// PublishTurn publishes an answered turn, keyed by call id.
func (p *Publisher) PublishTurn(ctx context.Context, ev models.TurnEvent) error {
	return p.publish(ctx, p.writerTurns, p.topicTurns, ev.EventType, ev.CallID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes all writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, w := range []*kafka.Writer{p.writerTranscripts, p.writerCalls, p.writerTurns} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			log.Error().Err(err).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
