package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the interview client.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Channel  ChannelConfig  `yaml:"channel"`
	Media    MediaConfig    `yaml:"media"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Rules    RulesConfig    `yaml:"rules"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	APIBaseURL string `yaml:"api_base_url"`
	WSBaseURL  string `yaml:"ws_base_url"`
}

type SessionConfig struct {
	FramesPerSecond      int           `yaml:"frames_per_second"`
	AudioChunkDuration   time.Duration `yaml:"audio_chunk_duration"`
	AutoSubmitDelay      time.Duration `yaml:"auto_submit_delay"`
	MinAnswerLength      int           `yaml:"min_answer_length"`
	InterventionWindow   time.Duration `yaml:"intervention_window"`
	ElapsedTick          time.Duration `yaml:"elapsed_tick"`
	DefaultTotal         int           `yaml:"default_total_questions"`
	TranscriptionEnabled bool          `yaml:"transcription_enabled"`
}

type ChannelConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	AuthSendAttempts     int           `yaml:"auth_send_attempts"`
	AuthSendInterval     time.Duration `yaml:"auth_send_interval"`
}

type MediaConfig struct {
	FFmpegCommand      string        `yaml:"ffmpeg_command"`
	VideoInputFormat   string        `yaml:"video_input_format"`
	VideoDevice        string        `yaml:"video_device"`
	AudioInputFormat   string        `yaml:"audio_input_format"`
	AudioDevice        string        `yaml:"audio_device"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	FrameRate          int           `yaml:"frame_rate"`
	SampleRate         int           `yaml:"sample_rate"`
	Channels           int           `yaml:"channels"`
	PermissionAttempts int           `yaml:"permission_attempts"`
	PermissionBackoff  time.Duration `yaml:"permission_backoff"`
}

type DeepgramConfig struct {
	APIKey       string        `yaml:"api_key"`
	APIBaseURL   string        `yaml:"api_base_url"`
	Model        string        `yaml:"model"`
	Language     string        `yaml:"language"`
	SmartFormat  bool          `yaml:"smart_format"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iteration_limit"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".config", "interviewcoach")

	return Config{
		Server: ServerConfig{
			APIBaseURL: "http://localhost:8000",
			WSBaseURL:  "ws://localhost:8000",
		},
		Session: SessionConfig{
			FramesPerSecond:      2,
			AudioChunkDuration:   3 * time.Second,
			AutoSubmitDelay:      5 * time.Second,
			MinAnswerLength:      20,
			InterventionWindow:   10 * time.Second,
			ElapsedTick:          time.Second,
			DefaultTotal:         5,
			TranscriptionEnabled: true,
		},
		Channel: ChannelConfig{
			HeartbeatInterval:    30 * time.Second,
			ReconnectDelay:       3 * time.Second,
			MaxReconnectAttempts: 5,
			AuthSendAttempts:     10,
			AuthSendInterval:     100 * time.Millisecond,
		},
		Media: MediaConfig{
			FFmpegCommand:      "ffmpeg",
			VideoInputFormat:   "v4l2",
			VideoDevice:        "/dev/video0",
			AudioInputFormat:   "pulse",
			AudioDevice:        "default",
			Width:              640,
			Height:             480,
			FrameRate:          30,
			SampleRate:         16000,
			Channels:           1,
			PermissionAttempts: 3,
			PermissionBackoff:  500 * time.Millisecond,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:   "https://api.deepgram.com/v1",
			Model:        "nova-2",
			Language:     "en-US",
			SmartFormat:  true,
			RestartDelay: 300 * time.Millisecond,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(base, "answer.rules"),
			IterationLimit: 30,
		},
		Storage: StorageConfig{
			Path: filepath.Join(base, "state.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file, a .env
// file in the working directory and INTERVIEWCOACH_* environment variables,
// in that order.
func Load(path string) (Config, error) {
	cfg := Defaults()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("INTERVIEWCOACH_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.APIBaseURL = envOrDefault("INTERVIEWCOACH_API_URL", cfg.Server.APIBaseURL)
	cfg.Server.WSBaseURL = envOrDefault("INTERVIEWCOACH_WS_URL", cfg.Server.WSBaseURL)

	cfg.Session.FramesPerSecond = envOrDefaultInt("INTERVIEWCOACH_VIDEO_FPS", cfg.Session.FramesPerSecond)
	cfg.Session.AudioChunkDuration = envOrDefaultMillis("INTERVIEWCOACH_AUDIO_CHUNK_MS", cfg.Session.AudioChunkDuration)
	cfg.Session.AutoSubmitDelay = envOrDefaultMillis("INTERVIEWCOACH_AUTO_SUBMIT_MS", cfg.Session.AutoSubmitDelay)
	cfg.Session.MinAnswerLength = envOrDefaultInt("INTERVIEWCOACH_MIN_ANSWER_LENGTH", cfg.Session.MinAnswerLength)
	cfg.Session.TranscriptionEnabled = envOrDefaultBool("INTERVIEWCOACH_SPEECH_RECOGNITION", cfg.Session.TranscriptionEnabled)

	cfg.Channel.MaxReconnectAttempts = envOrDefaultInt("INTERVIEWCOACH_MAX_RECONNECTS", cfg.Channel.MaxReconnectAttempts)
	cfg.Channel.ReconnectDelay = envOrDefaultMillis("INTERVIEWCOACH_RECONNECT_DELAY_MS", cfg.Channel.ReconnectDelay)

	cfg.Media.SampleRate = envOrDefaultInt("INTERVIEWCOACH_SAMPLE_RATE", cfg.Media.SampleRate)
	cfg.Media.Channels = envOrDefaultInt("INTERVIEWCOACH_CHANNELS", cfg.Media.Channels)
	cfg.Media.FFmpegCommand = envOrDefault("INTERVIEWCOACH_FFMPEG_COMMAND", cfg.Media.FFmpegCommand)
	cfg.Media.VideoDevice = envOrDefault("INTERVIEWCOACH_VIDEO_DEVICE", cfg.Media.VideoDevice)
	cfg.Media.AudioInputFormat = envOrDefault("INTERVIEWCOACH_AUDIO_INPUT_FORMAT", cfg.Media.AudioInputFormat)
	cfg.Media.AudioDevice = firstNonEmpty(
		os.Getenv("INTERVIEWCOACH_AUDIO_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Media.AudioDevice,
	)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Rules.Path = envOrDefault("INTERVIEWCOACH_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("INTERVIEWCOACH_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)
	cfg.Storage.Path = envOrDefault("INTERVIEWCOACH_DB", cfg.Storage.Path)

	cfg.Log.Level = envOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envOrDefault("INTERVIEWCOACH_LOG_FILE", cfg.Log.File)
}

func normalize(cfg *Config) {
	d := Defaults()
	if cfg.Session.FramesPerSecond <= 0 {
		cfg.Session.FramesPerSecond = d.Session.FramesPerSecond
	}
	if cfg.Session.AudioChunkDuration <= 0 {
		cfg.Session.AudioChunkDuration = d.Session.AudioChunkDuration
	}
	if cfg.Session.AutoSubmitDelay <= 0 {
		cfg.Session.AutoSubmitDelay = d.Session.AutoSubmitDelay
	}
	if cfg.Session.MinAnswerLength < 0 {
		cfg.Session.MinAnswerLength = d.Session.MinAnswerLength
	}
	if cfg.Session.InterventionWindow <= 0 {
		cfg.Session.InterventionWindow = d.Session.InterventionWindow
	}
	if cfg.Session.ElapsedTick <= 0 {
		cfg.Session.ElapsedTick = d.Session.ElapsedTick
	}
	if cfg.Session.DefaultTotal <= 0 {
		cfg.Session.DefaultTotal = d.Session.DefaultTotal
	}
	if cfg.Channel.HeartbeatInterval <= 0 {
		cfg.Channel.HeartbeatInterval = d.Channel.HeartbeatInterval
	}
	if cfg.Channel.ReconnectDelay < 0 {
		cfg.Channel.ReconnectDelay = d.Channel.ReconnectDelay
	}
	if cfg.Channel.MaxReconnectAttempts < 0 {
		cfg.Channel.MaxReconnectAttempts = d.Channel.MaxReconnectAttempts
	}
	if cfg.Channel.AuthSendAttempts <= 0 {
		cfg.Channel.AuthSendAttempts = d.Channel.AuthSendAttempts
	}
	if cfg.Media.SampleRate <= 0 {
		cfg.Media.SampleRate = d.Media.SampleRate
	}
	if cfg.Media.Channels <= 0 {
		cfg.Media.Channels = d.Media.Channels
	}
	if cfg.Media.PermissionAttempts <= 0 {
		cfg.Media.PermissionAttempts = d.Media.PermissionAttempts
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = d.Rules.IterationLimit
	}
	cfg.Server.APIBaseURL = strings.TrimRight(cfg.Server.APIBaseURL, "/")
	cfg.Server.WSBaseURL = strings.TrimRight(cfg.Server.WSBaseURL, "/")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
