package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			Address:         "0.0.0.0",
			MaxSessions:     100,
			ShutdownTimeout: 10,
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			SampleWidth: 2,
			FFmpegPath:  "ffmpeg",
			MaxUploadMB: 50,
		},
		Live: LiveConfig{
			MinCompressedBytes: 20000,
			ForceDecodeTimeout: 2.5,
			BufferSec:          2.0,
			MinAudioSec:        1.0,
			OverlapSec:         0.2,
			Strategy:           "sliding_window",
			SessionTimeout:     300,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "https://api.openai.com/v1/audio/transcriptions",
			APIKey:        "test-key",
			Model:         "whisper-1",
			Language:      "en",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
		},
		Extraction: ExtractionConfig{
			APIKey:      "test-key",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     30,
			SplitSteps:  true,
		},
		Synthesis: SynthesisConfig{
			Endpoint:   "https://api.openai.com/v1/audio/speech",
			APIKey:     "test-key",
			Model:      "tts-1",
			Voice:      "alloy",
			Timeout:    30,
			MaxRetries: 2,
		},
		Storage: StorageConfig{
			Bucket:          "apd-artifacts",
			Region:          "us-east-1",
			AccessKeyID:     "AKIATEST",
			SecretAccessKey: "secret",
			KeyPrefix:       "tts",
		},
		Database: DatabaseConfig{
			Path: "apd.db",
		},
		Pipeline: PipelineConfig{
			SynthesisWorkers: 4,
			JobTimeout:       300,
		},
		Webhook: WebhookConfig{
			URL:     "",
			Timeout: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name: "invalid server port",
			mutate: func(c *Config) {
				c.Server.Port = 70000
			},
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name: "invalid audio sample rate",
			mutate: func(c *Config) {
				c.Audio.SampleRate = 8000
			},
			expectError: true,
			errorMsg:    "sample_rate must be 16000 Hz",
		},
		{
			name: "buffer_sec below min_audio_sec",
			mutate: func(c *Config) {
				c.Live.BufferSec = 0.5
			},
			expectError: true,
			errorMsg:    "buffer_sec",
		},
		{
			name: "overlap_sec not less than buffer_sec",
			mutate: func(c *Config) {
				c.Live.OverlapSec = 2.0
			},
			expectError: true,
			errorMsg:    "overlap_sec must be in [0, buffer_sec)",
		},
		{
			name: "unknown live strategy",
			mutate: func(c *Config) {
				c.Live.Strategy = "chunked"
			},
			expectError: true,
			errorMsg:    "strategy must be 'sliding_window' or 'growing_buffer'",
		},
		{
			name: "missing transcription api key",
			mutate: func(c *Config) {
				c.Transcription.APIKey = ""
			},
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name: "extraction temperature out of range",
			mutate: func(c *Config) {
				c.Extraction.Temperature = 3.0
			},
			expectError: true,
			errorMsg:    "temperature must be between 0 and 2",
		},
		{
			name: "missing synthesis voice",
			mutate: func(c *Config) {
				c.Synthesis.Voice = ""
			},
			expectError: true,
			errorMsg:    "voice cannot be empty",
		},
		{
			name: "missing storage bucket",
			mutate: func(c *Config) {
				c.Storage.Bucket = ""
			},
			expectError: true,
			errorMsg:    "bucket cannot be empty",
		},
		{
			name: "missing database path",
			mutate: func(c *Config) {
				c.Database.Path = ""
			},
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
		{
			name: "zero synthesis workers",
			mutate: func(c *Config) {
				c.Pipeline.SynthesisWorkers = 0
			},
			expectError: true,
			errorMsg:    "synthesis_workers must be at least 1",
		},
		{
			name: "webhook url without timeout",
			mutate: func(c *Config) {
				c.Webhook.URL = "https://example.com/hook"
				c.Webhook.Timeout = 0
			},
			expectError: true,
			errorMsg:    "timeout must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	validYAML := `
server:
  port: 8000
  address: "0.0.0.0"
  max_sessions: 100
  shutdown_timeout: 10
audio:
  sample_rate: 16000
  channels: 1
  sample_width: 2
  ffmpeg_path: "ffmpeg"
  max_upload_mb: 50
live:
  min_compressed_bytes: 20000
  force_decode_timeout: 2.5
  buffer_sec: 2.0
  min_audio_sec: 1.0
  overlap_sec: 0.2
  strategy: "sliding_window"
  session_timeout: 300
transcription:
  endpoint: "https://api.openai.com/v1/audio/transcriptions"
  api_key: "test-key"
  model: "whisper-1"
  language: "en"
  timeout: 30
  max_retries: 3
  max_concurrent: 10
extraction:
  api_key: "test-key"
  model: "gpt-4o-mini"
  temperature: 0.2
  timeout: 30
  split_steps: true
synthesis:
  endpoint: "https://api.openai.com/v1/audio/speech"
  api_key: "test-key"
  model: "tts-1"
  voice: "alloy"
  timeout: 30
  max_retries: 2
storage:
  bucket: "apd-artifacts"
  region: "us-east-1"
  access_key_id: "AKIATEST"
  secret_access_key: "secret"
  key_prefix: "tts"
database:
  path: "apd.db"
pipeline:
  synthesis_workers: 4
  job_timeout: 300
logging:
  level: "info"
  format: "json"
  output: "stdout"
`

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config file",
			configYAML:  validYAML,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  port: 8000
  max_sessions: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
server:
  port: 8000
  address: "0.0.0.0"
  max_sessions: 100
  shutdown_timeout: 10
`,
			expectError: true,
			errorMsg:    "sample_rate must be 16000 Hz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("AWS_ACCESS_KEY_ID", "env-access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "env-secret-key")

	config := validConfig()
	config.Transcription.APIKey = ""
	config.Extraction.APIKey = ""
	config.Synthesis.APIKey = "file-key"
	config.Storage.AccessKeyID = ""
	config.Storage.SecretAccessKey = ""
	config.applyEnvOverrides()

	if config.Transcription.APIKey != "env-openai-key" {
		t.Errorf("Expected transcription key from env, got '%s'", config.Transcription.APIKey)
	}
	if config.Extraction.APIKey != "env-openai-key" {
		t.Errorf("Expected extraction key from env, got '%s'", config.Extraction.APIKey)
	}
	if config.Synthesis.APIKey != "file-key" {
		t.Errorf("Expected file value to win over env, got '%s'", config.Synthesis.APIKey)
	}
	if config.Storage.AccessKeyID != "env-access-key" {
		t.Errorf("Expected access key from env, got '%s'", config.Storage.AccessKeyID)
	}
	if config.Storage.SecretAccessKey != "env-secret-key" {
		t.Errorf("Expected secret key from env, got '%s'", config.Storage.SecretAccessKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	live := LiveConfig{
		ForceDecodeTimeout: 2.5,
		BufferSec:          2.0,
		MinAudioSec:        1.0,
		OverlapSec:         0.2,
		SessionTimeout:     300,
	}

	if live.GetForceDecodeTimeout() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5 seconds, got %v", live.GetForceDecodeTimeout())
	}

	if live.GetBufferDuration() != 2*time.Second {
		t.Errorf("Expected 2 seconds, got %v", live.GetBufferDuration())
	}

	if live.GetMinAudioDuration() != time.Second {
		t.Errorf("Expected 1 second, got %v", live.GetMinAudioDuration())
	}

	if live.GetOverlapDuration() != 200*time.Millisecond {
		t.Errorf("Expected 0.2 seconds, got %v", live.GetOverlapDuration())
	}

	if live.GetSessionTimeout() != 300*time.Second {
		t.Errorf("Expected 300 seconds, got %v", live.GetSessionTimeout())
	}

	transcription := TranscriptionConfig{
		Timeout: 30,
	}

	if transcription.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", transcription.GetTimeoutDuration())
	}

	pipeline := PipelineConfig{
		JobTimeout: 300,
	}

	if pipeline.GetJobTimeout() != 300*time.Second {
		t.Errorf("Expected 300 seconds, got %v", pipeline.GetJobTimeout())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to stderr",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "stderr",
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}
