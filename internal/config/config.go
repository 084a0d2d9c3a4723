// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the voice call service.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Audio         AudioConfig         `yaml:"audio"`
	STT           STTConfig           `yaml:"stt"`
	Call          CallConfig          `yaml:"call"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	HTTPPort    string `yaml:"http_port"`
	GRPCPort    string `yaml:"grpc_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// AudioConfig describes the frame format sent to the STT provider and the
// inbound format assumed until the gateway announces one.
type AudioConfig struct {
	SampleRateHz        int     `yaml:"sample_rate_hz"`
	Channels            int     `yaml:"channels"`
	SampleWidth         int     `yaml:"sample_width"`
	FrameDurationMs     int     `yaml:"frame_duration_ms"`
	SilenceThreshold    float64 `yaml:"silence_threshold"`
	InboundEncoding     string  `yaml:"inbound_encoding"`
	InboundSampleRateHz int     `yaml:"inbound_sample_rate_hz"`
	InboundChannels     int     `yaml:"inbound_channels"`
}

// STTConfig selects and configures the speech-to-text provider.
type STTConfig struct {
	Provider       string        `yaml:"provider"` // mock, deepgram, google
	Model          string        `yaml:"model"`
	LanguageCode   string        `yaml:"language_code"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	InterimResults bool          `yaml:"interim_results"`
	QueueSize      int           `yaml:"queue_size"`
	ResultQueue    int           `yaml:"result_queue_size"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// CallConfig holds per-call orchestration settings.
type CallConfig struct {
	ReceiveTimeout       time.Duration `yaml:"receive_timeout"`
	ErrorBudget          int           `yaml:"error_budget"`
	EscalationConfidence float64       `yaml:"escalation_confidence"`
	Greeting             string        `yaml:"greeting"`
	Apology              string        `yaml:"apology"`
	UtteranceGap         time.Duration `yaml:"utterance_gap"`
	StaleAge             time.Duration `yaml:"stale_age"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	RetainEnded          time.Duration `yaml:"retain_ended"`
}

// KafkaConfig configures call event publishing.
type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	TopicTranscripts string   `yaml:"topic_transcripts"`
	TopicCalls       string   `yaml:"topic_calls"`
	TopicTurns       string   `yaml:"topic_turns"`
	Principal        string   `yaml:"principal"`
}

// StorageConfig configures the ended-call archive.
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   "svc-voice-call",
			HTTPPort:    "8080",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		Audio: AudioConfig{
			SampleRateHz:        16000,
			Channels:            1,
			SampleWidth:         2,
			FrameDurationMs:     20,
			SilenceThreshold:    200,
			InboundEncoding:     "mulaw",
			InboundSampleRateHz: 8000,
			InboundChannels:     1,
		},
		STT: STTConfig{
			Provider:       "mock",
			Model:          "nova-2",
			LanguageCode:   "en-US",
			InterimResults: true,
			QueueSize:      100,
			ResultQueue:    64,
			StopTimeout:    2 * time.Second,
		},
		Call: CallConfig{
			ReceiveTimeout:       10 * time.Second,
			ErrorBudget:          5,
			EscalationConfidence: 0.55,
			Greeting:             "Thank you for calling. How can I help you today?",
			Apology:              "I'm sorry, I'm having trouble with that. Let me connect you with a member of our team.",
			UtteranceGap:         1500 * time.Millisecond,
			StaleAge:             2 * time.Hour,
			SweepInterval:        time.Minute,
			RetainEnded:          30 * time.Minute,
		},
		Kafka: KafkaConfig{
			TopicTranscripts: "call.transcripts",
			TopicCalls:       "call.lifecycle",
			TopicTurns:       "call.turns",
		},
		Storage: StorageConfig{
			Path: "./data/calls",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. Parse errors in individual variables fall
// back to the previous value rather than failing startup.
func Load() *Config {
	// .env is optional; real environment variables always win.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsPort = envOrDefault("METRICS_PORT", s.MetricsPort)

	a := &c.Audio
	a.SampleRateHz = envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", a.SampleRateHz)
	a.Channels = envOrDefaultInt("AUDIO_CHANNELS", a.Channels)
	a.SampleWidth = envOrDefaultInt("AUDIO_SAMPLE_WIDTH", a.SampleWidth)
	a.FrameDurationMs = envOrDefaultInt("AUDIO_FRAME_DURATION_MS", a.FrameDurationMs)
	a.SilenceThreshold = envOrDefaultFloat("AUDIO_SILENCE_THRESHOLD", a.SilenceThreshold)
	a.InboundEncoding = envOrDefault("AUDIO_INBOUND_ENCODING", a.InboundEncoding)
	a.InboundSampleRateHz = envOrDefaultInt("AUDIO_INBOUND_SAMPLE_RATE_HZ", a.InboundSampleRateHz)
	a.InboundChannels = envOrDefaultInt("AUDIO_INBOUND_CHANNELS", a.InboundChannels)

	st := &c.STT
	st.Provider = envOrDefault("STT_PROVIDER", st.Provider)
	st.Model = envOrDefault("STT_MODEL", st.Model)
	st.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", st.LanguageCode)
	st.APIKey = envOrDefault("STT_API_KEY", st.APIKey)
	st.BaseURL = envOrDefault("STT_BASE_URL", st.BaseURL)
	st.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", st.InterimResults)
	st.QueueSize = envOrDefaultInt("STT_QUEUE_SIZE", st.QueueSize)
	st.ResultQueue = envOrDefaultInt("STT_RESULT_QUEUE_SIZE", st.ResultQueue)
	st.StopTimeout = envOrDefaultDuration("STT_STOP_TIMEOUT", st.StopTimeout)

	cl := &c.Call
	cl.ReceiveTimeout = envOrDefaultDuration("CALL_RECEIVE_TIMEOUT", cl.ReceiveTimeout)
	cl.ErrorBudget = envOrDefaultInt("CALL_ERROR_BUDGET", cl.ErrorBudget)
	cl.EscalationConfidence = envOrDefaultFloat("CALL_ESCALATION_CONFIDENCE", cl.EscalationConfidence)
	cl.Greeting = envOrDefault("CALL_GREETING", cl.Greeting)
	cl.Apology = envOrDefault("CALL_APOLOGY", cl.Apology)
	cl.UtteranceGap = envOrDefaultDuration("CALL_UTTERANCE_GAP", cl.UtteranceGap)
	cl.StaleAge = envOrDefaultDuration("CALL_STALE_AGE", cl.StaleAge)
	cl.SweepInterval = envOrDefaultDuration("CALL_SWEEP_INTERVAL", cl.SweepInterval)
	cl.RetainEnded = envOrDefaultDuration("CALL_RETAIN_ENDED", cl.RetainEnded)

	k := &c.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitList(brokers)
	}
	k.TopicTranscripts = envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", k.TopicTranscripts)
	k.TopicCalls = envOrDefault("KAFKA_TOPIC_CALLS", k.TopicCalls)
	k.TopicTurns = envOrDefault("KAFKA_TOPIC_TURNS", k.TopicTurns)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	c.Storage.Enabled = envOrDefaultBool("STORAGE_ENABLED", c.Storage.Enabled)
	c.Storage.Path = envOrDefault("STORAGE_PATH", c.Storage.Path)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRateHz <= 0 || c.Audio.Channels <= 0 || c.Audio.FrameDurationMs <= 0 {
		errs = append(errs, errors.New("audio: sample rate, channels and frame duration must be positive"))
	}
	if c.Audio.SampleWidth != 1 && c.Audio.SampleWidth != 2 {
		errs = append(errs, fmt.Errorf("audio: unsupported sample width %d", c.Audio.SampleWidth))
	}
	if c.STT.QueueSize <= 0 {
		errs = append(errs, errors.New("stt: queue size must be positive"))
	}
	if c.STT.ResultQueue <= 0 {
		errs = append(errs, errors.New("stt: result queue size must be positive"))
	}
	switch c.STT.Provider {
	case "mock", "google":
	case "deepgram":
		if strings.TrimSpace(c.STT.APIKey) == "" {
			errs = append(errs, errors.New("stt: deepgram requires STT_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("stt: unknown provider %q", c.STT.Provider))
	}
	if c.Call.ErrorBudget <= 0 {
		errs = append(errs, errors.New("call: error budget must be positive"))
	}
	if c.Call.EscalationConfidence < 0 || c.Call.EscalationConfidence > 1 {
		errs = append(errs, errors.New("call: escalation confidence must be within [0,1]"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: enabled without brokers"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
