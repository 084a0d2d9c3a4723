// Command transcript-viewer shows live call events from Kafka in a browser.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ai-voice-call-service/internal/config"
	"ai-voice-call-service/internal/observability/logging"
	"ai-voice-call-service/internal/viewer"
)

func main() {
	cfg := config.Load()

	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", strings.Join(cfg.Kafka.Brokers, ","), "Kafka brokers (comma-separated)")
	group := flag.String("group", "", "Consumer group; empty reads partition 0 of each topic")
	since := flag.Duration("since", time.Hour, "How far back to start without a consumer group")
	flag.Parse()

	logging.Init(logging.Config{Level: cfg.Observability.LogLevel, Format: "console", TimeFormat: time.RFC3339})
	logger := logging.WithComponent("transcript-viewer")

	if *brokers == "" {
		*brokers = "localhost:9092"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := viewer.NewHub(logger)
	go hub.Run(ctx.Done())

	topics := []string{cfg.Kafka.TopicTranscripts, cfg.Kafka.TopicCalls, cfg.Kafka.TopicTurns}
	go viewer.Consume(ctx, hub, viewer.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topics:  topics,
		GroupID: *group,
		Since:   *since,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           viewer.Handler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("url", "http://localhost:"+*port).
		Str("brokers", *brokers).
		Strs("topics", topics).
		Msg("Transcript viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}
