package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Live          LiveConfig          `yaml:"live"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Storage       StorageConfig       `yaml:"storage"`
	Database      DatabaseConfig      `yaml:"database"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Address         string `yaml:"address"`
	MaxSessions     int    `yaml:"max_sessions"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig contains decoded audio parameters and decoder settings
type AudioConfig struct {
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	SampleWidth int    `yaml:"sample_width"` // bytes per sample
	FFmpegPath  string `yaml:"ffmpeg_path"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// LiveConfig contains incremental live-session thresholds
type LiveConfig struct {
	MinCompressedBytes int     `yaml:"min_compressed_bytes"`
	ForceDecodeTimeout float64 `yaml:"force_decode_timeout"` // seconds
	BufferSec          float64 `yaml:"buffer_sec"`           // transcribe trigger
	MinAudioSec        float64 `yaml:"min_audio_sec"`
	OverlapSec         float64 `yaml:"overlap_sec"`
	Strategy           string  `yaml:"strategy"` // sliding_window or growing_buffer
	SessionTimeout     int     `yaml:"session_timeout"` // seconds
}

// TranscriptionConfig contains speech-to-text API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ExtractionConfig contains instruction extraction model configuration
type ExtractionConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"` // seconds
	SplitSteps  bool    `yaml:"split_steps"`
}

// SynthesisConfig contains text-to-speech API configuration
type SynthesisConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// StorageConfig contains artifact storage configuration
type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"` // optional, for S3-compatible stores
	KeyPrefix       string `yaml:"key_prefix"`
}

// DatabaseConfig contains job store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig contains batch pipeline worker configuration
type PipelineConfig struct {
	SynthesisWorkers int `yaml:"synthesis_workers"`
	JobTimeout       int `yaml:"job_timeout"` // seconds
}

// WebhookConfig contains completion notification configuration
type WebhookConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Transcription.APIKey == "" {
			c.Transcription.APIKey = v
		}
		if c.Extraction.APIKey == "" {
			c.Extraction.APIKey = v
		}
		if c.Synthesis.APIKey == "" {
			c.Synthesis.APIKey = v
		}
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" && c.Storage.AccessKeyID == "" {
		c.Storage.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" && c.Storage.SecretAccessKey == "" {
		c.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" && c.Webhook.URL == "" {
		c.Webhook.URL = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.SampleWidth != 2 {
		return fmt.Errorf("sample_width must be 2 bytes, got %d", a.SampleWidth)
	}

	if a.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if a.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", a.MaxUploadMB)
	}

	return nil
}

// Validate validates live session configuration
func (l *LiveConfig) Validate() error {
	if l.MinCompressedBytes < 1 {
		return fmt.Errorf("min_compressed_bytes must be positive, got %d", l.MinCompressedBytes)
	}

	if l.ForceDecodeTimeout <= 0 {
		return fmt.Errorf("force_decode_timeout must be positive, got %f", l.ForceDecodeTimeout)
	}

	if l.MinAudioSec <= 0 {
		return fmt.Errorf("min_audio_sec must be positive, got %f", l.MinAudioSec)
	}

	if l.BufferSec < l.MinAudioSec {
		return fmt.Errorf("buffer_sec (%f) must not be less than min_audio_sec (%f)",
			l.BufferSec, l.MinAudioSec)
	}

	if l.OverlapSec < 0 || l.OverlapSec >= l.BufferSec {
		return fmt.Errorf("overlap_sec must be in [0, buffer_sec), got %f", l.OverlapSec)
	}

	if l.Strategy != "sliding_window" && l.Strategy != "growing_buffer" {
		return fmt.Errorf("strategy must be 'sliding_window' or 'growing_buffer', got '%s'", l.Strategy)
	}

	if l.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", l.SessionTimeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates extraction configuration
func (e *ExtractionConfig) Validate() error {
	if e.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if e.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", e.Temperature)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}

	if s.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	if s.AccessKeyID == "" {
		return fmt.Errorf("access_key_id cannot be empty")
	}

	if s.SecretAccessKey == "" {
		return fmt.Errorf("secret_access_key cannot be empty")
	}

	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.SynthesisWorkers < 1 {
		return fmt.Errorf("synthesis_workers must be at least 1, got %d", p.SynthesisWorkers)
	}

	if p.JobTimeout < 1 {
		return fmt.Errorf("job_timeout must be at least 1 second, got %d", p.JobTimeout)
	}

	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if w.URL != "" && w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second when a webhook URL is set, got %d", w.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetForceDecodeTimeout returns the force-decode timeout as a time.Duration
func (l *LiveConfig) GetForceDecodeTimeout() time.Duration {
	return time.Duration(l.ForceDecodeTimeout * float64(time.Second))
}

// GetBufferDuration returns the transcribe trigger threshold as a time.Duration
func (l *LiveConfig) GetBufferDuration() time.Duration {
	return time.Duration(l.BufferSec * float64(time.Second))
}

// GetMinAudioDuration returns the minimum decodable audio span as a time.Duration
func (l *LiveConfig) GetMinAudioDuration() time.Duration {
	return time.Duration(l.MinAudioSec * float64(time.Second))
}

// GetOverlapDuration returns the retained overlap span as a time.Duration
func (l *LiveConfig) GetOverlapDuration() time.Duration {
	return time.Duration(l.OverlapSec * float64(time.Second))
}

// GetSessionTimeout returns the idle session timeout as a time.Duration
func (l *LiveConfig) GetSessionTimeout() time.Duration {
	return time.Duration(l.SessionTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the extraction timeout as a time.Duration
func (e *ExtractionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetJobTimeout returns the batch job timeout as a time.Duration
func (p *PipelineConfig) GetJobTimeout() time.Duration {
	return time.Duration(p.JobTimeout) * time.Second
}

// GetTimeoutDuration returns the webhook delivery timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}
