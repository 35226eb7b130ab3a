package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "configs/audiocrawler.yaml"

// Config holds the application configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Job     JobConfig     `yaml:"job"`
	Source  SourceConfig  `yaml:"source"`
	Concat  ConcatConfig  `yaml:"concat"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	Request RequestConfig `yaml:"request"`
	TTS     TTSConfig     `yaml:"tts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
	TTS    LogSettings `yaml:"tts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// JobConfig holds batch scheduling settings.
type JobConfig struct {
	// Concurrency is the worker pool size. Zero uses the primary provider's
	// declared concurrency.
	Concurrency int `yaml:"concurrency"`
	// MaxRetries is the number of attempts per chunk.
	MaxRetries int `yaml:"max_retries"`
	// BaseDelay is the first backoff delay. Zero uses the provider's own
	// hint, or one second.
	BaseDelay      Duration `yaml:"base_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	// RetryFailed runs one extra pass over failed tasks at the end of a job.
	RetryFailed bool   `yaml:"retry_failed"`
	Format      string `yaml:"format"`
}

// SourceConfig locates crawled chapter text.
type SourceConfig struct {
	Root string `yaml:"root" env:"AUDIOCRAWLER_ROOT"`
}

// ConcatConfig configures the ffmpeg concatenator.
type ConcatConfig struct {
	FFmpeg string `yaml:"ffmpeg" env:"FFMPEG_PATH"`
}

// CacheConfig selects the chunk audio cache backend.
type CacheConfig struct {
	Backend       string   `yaml:"backend" env:"AUDIOCRAWLER_CACHE"`
	Path          string   `yaml:"path"`
	RedisAddr     string   `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string   `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int      `yaml:"redis_db"`
	TTL           Duration `yaml:"ttl"`
	Prefix        string   `yaml:"prefix"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile is written in Prometheus text format at the end of each job.
	// Empty disables the export.
	Textfile string `yaml:"textfile" env:"AUDIOCRAWLER_METRICS_TEXTFILE"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds the shared per-provider cooldown settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// Limits overrides the declared concurrency and request rate of a provider.
// Zero keeps the provider default.
type Limits struct {
	Concurrency       int `yaml:"concurrency"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// TTSConfig holds Text-To-Speech settings.
type TTSConfig struct {
	Primary   string   `yaml:"primary" env:"AUDIOCRAWLER_PROVIDER"`
	Fallbacks []string `yaml:"fallbacks" env:"AUDIOCRAWLER_FALLBACKS"`
	Voice     string   `yaml:"voice" env:"AUDIOCRAWLER_VOICE"`
	// Rate is a relative speech rate such as "+10%" for engines that support it.
	Rate string `yaml:"rate"`

	EdgeTTS     EdgeTTSConfig     `yaml:"edge_tts"`
	AzureSpeech AzureSpeechConfig `yaml:"azure_speech"`
	FishAudio   FishAudioConfig   `yaml:"fish_audio"`
	GoogleCloud GoogleCloudConfig `yaml:"google_cloud"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	FPTAI       FPTAIConfig       `yaml:"fpt_ai"`
	GTTS        CommandConfig     `yaml:"gtts"`
	MacOS       CommandConfig     `yaml:"macos"`
	Piper       PiperConfig       `yaml:"piper"`
	SAPI        SAPIConfig        `yaml:"windows_sapi"`
}

// EdgeTTSConfig holds settings for Edge TTS.
type EdgeTTSConfig struct {
	Limits             `yaml:",inline"`
	VoiceID            string `yaml:"voice"`
	Origin             string `yaml:"origin" env:"EDGE_TTS_ORIGIN"`
	UserAgent          string `yaml:"user_agent" env:"EDGE_TTS_USER_AGENT"`
	TrustedClientToken string `yaml:"trusted_client_token" env:"EDGE_TTS_TRUSTED_CLIENT_TOKEN"`
	SecMSGecVersion    string `yaml:"sec_ms_gec_version" env:"EDGE_TTS_SEC_MS_GEC_VERSION"`
	BaseURL            string `yaml:"base_url" env:"EDGE_TTS_BASE_URL"`
}

// AzureSpeechConfig holds settings for Azure Speech TTS.
type AzureSpeechConfig struct {
	Limits  `yaml:",inline"`
	Key     string `yaml:"key" env:"AZURE_SPEECH_KEY"`
	Region  string `yaml:"region" env:"AZURE_SPEECH_REGION"`
	VoiceID string `yaml:"voice"`
}

// FishAudioConfig holds settings for Fish Audio TTS.
type FishAudioConfig struct {
	Limits  `yaml:",inline"`
	Key     string `yaml:"key" env:"FISH_AUDIO_API_KEY"`
	VoiceID string `yaml:"voice"` // Reference ID
	Model   string `yaml:"model"` // Model ID (e.g. "s1")
}

// GoogleCloudConfig holds settings for Google Cloud Text-to-Speech.
type GoogleCloudConfig struct {
	Limits          `yaml:",inline"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	APIKey          string `yaml:"api_key" env:"GOOGLE_TTS_API_KEY"`
	VoiceID         string `yaml:"voice"`
	LanguageCode    string `yaml:"language_code"`
}

// GeminiConfig holds settings for Gemini speech generation.
type GeminiConfig struct {
	Limits  `yaml:",inline"`
	Key     string `yaml:"key" env:"GEMINI_API_KEY"`
	Model   string `yaml:"model"`
	VoiceID string `yaml:"voice"`
}

// OpenAIConfig holds settings for the OpenAI speech endpoint.
type OpenAIConfig struct {
	Limits  `yaml:",inline"`
	Key     string `yaml:"key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model   string `yaml:"model"`
	VoiceID string `yaml:"voice"`
}

// FPTAIConfig holds settings for FPT.AI text-to-speech.
type FPTAIConfig struct {
	Limits  `yaml:",inline"`
	Key     string `yaml:"key" env:"FPT_AI_API_KEY"`
	VoiceID string `yaml:"voice"`
	Speed   string `yaml:"speed"`
}

// CommandConfig holds settings for engines driven by a local executable.
type CommandConfig struct {
	Limits  `yaml:",inline"`
	Command string `yaml:"command"`
	VoiceID string `yaml:"voice"`
}

// PiperConfig holds settings for the Piper engine.
type PiperConfig struct {
	CommandConfig `yaml:",inline"`
	// Model is the .onnx voice model used when no voice is given.
	Model string `yaml:"model" env:"PIPER_MODEL"`
}

// SAPIConfig holds settings for Windows SAPI.
type SAPIConfig struct {
	Limits  `yaml:",inline"`
	VoiceID string `yaml:"voice"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/audiocrawler.log",
				Level: "INFO",
			},
			TTS: LogSettings{
				Path:  "./logs/tts.log",
				Level: "INFO",
			},
		},
		Job: JobConfig{
			MaxRetries:     3,
			MaxDelay:       Duration(60 * time.Second),
			AttemptTimeout: Duration(2 * time.Minute),
			RetryFailed:    true,
			Format:         "mp3",
		},
		Source: SourceConfig{
			Root: "./output",
		},
		Concat: ConcatConfig{
			FFmpeg: "ffmpeg",
		},
		Cache: CacheConfig{
			Backend: "sqlite",
			Path:    "./data/audiocrawler.db",
			TTL:     Duration(30 * Day),
			Prefix:  "audiocrawler",
		},
		Request: RequestConfig{
			Timeout: Duration(300 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
		},
		TTS: TTSConfig{
			Primary:   "edge-tts",
			Fallbacks: []string{"gtts"},
			EdgeTTS: EdgeTTSConfig{
				VoiceID: "vi-VN-HoaiMyNeural",
			},
			AzureSpeech: AzureSpeechConfig{
				VoiceID: "vi-VN-HoaiMyNeural",
			},
			FishAudio: FishAudioConfig{
				VoiceID: "e58b0d7efca34eb38d5c4985e378abcb",
				Model:   "s1",
			},
			GoogleCloud: GoogleCloudConfig{
				VoiceID:      "vi-VN-Wavenet-A",
				LanguageCode: "vi-VN",
			},
			Gemini: GeminiConfig{
				Model:   "gemini-2.5-flash-preview-tts",
				VoiceID: "Kore",
			},
			OpenAI: OpenAIConfig{
				Model:   "gpt-4o-mini-tts",
				VoiceID: "alloy",
			},
			FPTAI: FPTAIConfig{
				VoiceID: "banmai",
			},
			GTTS: CommandConfig{
				Limits:  Limits{RequestsPerMinute: 20},
				Command: "gtts-cli",
				VoiceID: "vi",
			},
			MacOS: CommandConfig{
				Command: "say",
			},
			Piper: PiperConfig{
				CommandConfig: CommandConfig{Command: "piper"},
			},
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk (to preserve user formatting and comments).
// Environment variables override file values in memory only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Log.Server.Path, &c.Log.TTS.Path, &c.Source.Root, &c.Cache.Path,
		&c.Metrics.Textfile, &c.TTS.GoogleCloud.CredentialsFile, &c.TTS.Piper.Model,
	} {
		*p = os.ExpandEnv(*p)
	}
}

var validFormats = map[string]bool{"mp3": true, "wav": true, "ogg": true, "m4a": true, "flac": true}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Job.Concurrency < 0 {
		return fmt.Errorf("invalid job.concurrency %d: must not be negative", c.Job.Concurrency)
	}
	if c.Job.MaxRetries < 1 {
		return fmt.Errorf("invalid job.max_retries %d: at least one attempt is required", c.Job.MaxRetries)
	}
	if !validFormats[c.Job.Format] {
		return fmt.Errorf("invalid job.format '%s': must be one of mp3, wav, ogg, m4a, flac", c.Job.Format)
	}
	switch c.Cache.Backend {
	case "", "none", "sqlite", "redis":
	default:
		return fmt.Errorf("invalid cache.backend '%s': must be none, sqlite or redis", c.Cache.Backend)
	}
	if c.TTS.Primary == "" {
		return fmt.Errorf("tts.primary is required")
	}
	return nil
}

// Providers returns the primary followed by the fallbacks, without duplicates.
func (c *TTSConfig) Providers() []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range append([]string{c.Primary}, c.Fallbacks...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# audiocrawler Configuration
# -------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# Secrets (API keys, regions, edge-tts endpoint) are best kept in .env;
# environment variables override this file without being written back.

`)
	data = append(header, data...)

	reEngine := regexp.MustCompile(`(?m)^(\s+)primary:`)
	data = reEngine.ReplaceAll(data, []byte("${1}# Options: edge-tts, azure-speech, fish-audio, google-cloud, gemini, openai, fpt-ai, gtts, macos, piper, windows-sapi\n${1}primary:"))

	reBackend := regexp.MustCompile(`(?m)^(\s+)backend:`)
	data = reBackend.ReplaceAll(data, []byte("${1}# Options: none, sqlite, redis\n${1}backend:"))

	reConcurrency := regexp.MustCompile(`(?m)^(\s{4})concurrency:`)
	data = reConcurrency.ReplaceAll(data, []byte("${1}# 0 uses the primary provider's limit\n${1}concurrency:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
