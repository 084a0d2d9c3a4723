package google

import (
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/genproto/googleapis/rpc/status"

	"ai-voice-call-service/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_CustomValues(t *testing.T) {
	cfg := Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "MULAW",
	}

	if cfg.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildStreamingConfig_StreamOptionsOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpokenPunctuation = true

	sc := buildStreamingConfig(cfg, stt.StreamOptions{
		Language:   "en-GB",
		SampleRate: 8000,
		Encoding:   "mulaw",
		Channels:   2,
	})

	rc := sc.GetConfig()
	if rc.GetSampleRateHertz() != 8000 {
		t.Errorf("expected sample rate 8000, got %d", rc.GetSampleRateHertz())
	}
	if rc.GetLanguageCode() != "en-GB" {
		t.Errorf("expected language 'en-GB', got %s", rc.GetLanguageCode())
	}
	if rc.GetEncoding() != speechpb.RecognitionConfig_MULAW {
		t.Errorf("expected MULAW encoding, got %v", rc.GetEncoding())
	}
	if rc.GetAudioChannelCount() != 2 {
		t.Errorf("expected 2 channels, got %d", rc.GetAudioChannelCount())
	}
	if !rc.GetEnableSpokenPunctuation().GetValue() {
		t.Error("expected spoken punctuation enabled")
	}
	if !sc.GetInterimResults() {
		t.Error("expected interim results from config default")
	}
}

func TestToMessages(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{
				IsFinal:      true,
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "late checkout please", Confidence: 0.9}},
			},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "and a"}},
			},
			{IsFinal: true},
		},
		SpeechEventType: speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE,
	}

	msgs, err := toMessages(resp)
	if err != nil {
		t.Fatalf("toMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (two results and an utterance end), got %d", len(msgs))
	}
	if !msgs[0].SpeechFinal || msgs[0].Channel.Alternatives[0].Transcript != "late checkout please" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].IsFinal {
		t.Error("interim result must not be final")
	}
	if msgs[2].Type != "UtteranceEnd" || !msgs[2].SpeechFinal {
		t.Errorf("expected utterance end, got %+v", msgs[2])
	}
}

func TestToMessages_Error(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{Error: &status.Status{Code: 11, Message: "audio timeout"}}
	if _, err := toMessages(resp); err == nil {
		t.Fatal("expected provider error")
	}
}
