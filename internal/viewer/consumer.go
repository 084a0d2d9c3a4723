package viewer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// ConsumerConfig selects the topics to follow.
type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	// GroupID joins a consumer group over all topics. Without one each topic
	// is read from partition 0, starting Since ago.
	GroupID string
	Since   time.Duration
}

// Consume forwards call events to the hub until ctx is done.
func Consume(ctx context.Context, hub *Hub, cfg ConsumerConfig, logger zerolog.Logger) {
	if cfg.GroupID != "" {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
		defer reader.Close()
		logger.Info().Strs("topics", cfg.Topics).Str("group", cfg.GroupID).Msg("Consuming call events")
		readLoop(ctx, hub, reader, logger)
		return
	}

	done := make(chan struct{})
	for _, topic := range cfg.Topics {
		go func(topic string) {
			defer func() { done <- struct{}{} }()

			// Use partition reader without consumer group (works better through port-forward)
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
			defer reader.Close()

			if cfg.Since > 0 {
				if err := reader.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
					logger.Warn().Err(err).Str("topic", topic).Msg("Could not rewind topic")
				}
			}
			logger.Info().Str("topic", topic).Dur("since", cfg.Since).Msg("Consuming call events from partition 0")
			readLoop(ctx, hub, reader, logger)
		}(topic)
	}
	for range cfg.Topics {
		<-done
	}
}

func readLoop(ctx context.Context, hub *Hub, reader *kafka.Reader, logger zerolog.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := Decode(msg.Topic, msg.Value)
		if err != nil {
			logger.Warn().Err(err).Str("topic", msg.Topic).Msg("Skipping undecodable event")
			continue
		}
		logger.Debug().Str("eventType", ev.EventType).Str("callId", ev.CallID).Msg("Received call event")
		if !hub.Publish(ev) {
			logger.Warn().Str("eventType", ev.EventType).Msg("Viewer hub backed up, dropping event")
		}
	}
}
