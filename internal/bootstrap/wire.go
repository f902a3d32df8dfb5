// Package bootstrap assembles the runtime graph from configuration.
package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"interviewcoach/internal/channel"
	"interviewcoach/internal/config"
	"interviewcoach/internal/logger"
	"interviewcoach/internal/media"
	"interviewcoach/internal/media/ffmpeg"
	"interviewcoach/internal/ports"
	"interviewcoach/internal/providers/deepgram"
	"interviewcoach/internal/restapi"
	"interviewcoach/internal/rules"
	"interviewcoach/internal/storage"
	"interviewcoach/internal/transcription"
	"interviewcoach/internal/usecase"
)

// TokenEnvKey overrides the stored bearer token when set.
const TokenEnvKey = "INTERVIEWCOACH_TOKEN"

// Runtime holds the process-wide services shared by every command.
type Runtime struct {
	Config config.Config
	Log    *logrus.Logger
	Store  *storage.Store
	Tokens *storage.TokenSource
	API    *restapi.Client

	logCloser io.Closer
}

// Options adjusts Open for the command being run.
type Options struct {
	ConfigPath string
	// LogFile overrides the configured log file. The TUI sets one so log
	// output does not tear the terminal.
	LogFile  string
	LogLevel string
}

// Open loads configuration and opens logging, storage and the REST client.
func Open(opts Options) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.LogFile) != "" {
		cfg.Log.File = opts.LogFile
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.Log.Level = opts.LogLevel
	}

	log, closer, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Path, log, storage.Options{Debug: log.IsLevelEnabled(logrus.TraceLevel)})
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	tokens := storage.NewTokenSource(store, TokenEnvKey, log)

	return &Runtime{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Tokens:    tokens,
		API:       restapi.NewClient(cfg.Server.APIBaseURL, tokens, log),
		logCloser: closer,
	}, nil
}

// Close releases storage and the log file.
func (r *Runtime) Close() error {
	return errors.Join(r.Store.Close(), r.logCloser.Close())
}

// Session is the graph for one live interview.
type Session struct {
	Coordinator *usecase.Coordinator
	Media       *media.Service
	Channel     *channel.Client
	// Transcriber is nil when speech recognition is disabled or has no
	// API key.
	Transcriber *transcription.Service
}

// NewSession wires media capture, speech recognition, the session channel
// and answer rules into a coordinator for sessionID.
func (r *Runtime) NewSession(sessionID string, events ports.EventSink) (*Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	cfg := r.Config

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	mediaSvc := media.NewService(
		ffmpeg.NewProvider(ffmpeg.Options{
			Command:          cfg.Media.FFmpegCommand,
			VideoInputFormat: cfg.Media.VideoInputFormat,
			AudioInputFormat: cfg.Media.AudioInputFormat,
		}, r.Log),
		MediaConfig(cfg),
		r.Log,
	)

	var transcriber *transcription.Service
	deps := usecase.Dependencies{
		Media:  mediaSvc,
		Rules:  rulesEngine,
		Events: events,
		Log:    r.Log,
	}
	switch {
	case !cfg.Session.TranscriptionEnabled:
		r.Log.Info("speech recognition disabled")
	case strings.TrimSpace(cfg.Deepgram.APIKey) == "":
		r.Log.Warn("DEEPGRAM_API_KEY is not set; answers must be typed")
	default:
		engine := deepgram.NewEngine(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			SampleRate:  cfg.Media.SampleRate,
			Channels:    cfg.Media.Channels,
		}, r.Log)
		mediaSvc.TapAudio(engine.Feed)
		transcriber = transcription.New(engine, cfg.Deepgram.RestartDelay, r.Log)
		deps.Transcriber = transcriber
	}

	client := channel.NewClient(channel.Options{
		BaseURL:              cfg.Server.WSBaseURL,
		SessionID:            sessionID,
		Tokens:               r.Tokens,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval,
		ReconnectDelay:       cfg.Channel.ReconnectDelay,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		AuthSendAttempts:     cfg.Channel.AuthSendAttempts,
		AuthSendInterval:     cfg.Channel.AuthSendInterval,
	}, r.Log)
	deps.Channel = client

	coordinator := usecase.NewCoordinator(deps, usecase.Config{
		SessionID:          sessionID,
		FramesPerSecond:    cfg.Session.FramesPerSecond,
		AutoSubmitDelay:    cfg.Session.AutoSubmitDelay,
		MinAnswerLength:    cfg.Session.MinAnswerLength,
		InterventionWindow: cfg.Session.InterventionWindow,
		ElapsedTick:        cfg.Session.ElapsedTick,
		DefaultTotal:       cfg.Session.DefaultTotal,
	})

	return &Session{
		Coordinator: coordinator,
		Media:       mediaSvc,
		Channel:     client,
		Transcriber: transcriber,
	}, nil
}

// MediaConfig derives capture constraints from configuration: the
// preferred request carries resolution and audio processing, the minimal
// fallback only asks for any camera and microphone.
func MediaConfig(cfg config.Config) media.Config {
	audio := ports.AudioConstraints{
		SampleRate:  cfg.Media.SampleRate,
		Channels:    cfg.Media.Channels,
		InputFormat: cfg.Media.AudioInputFormat,
		Device:      cfg.Media.AudioDevice,
	}
	preferredAudio := audio
	preferredAudio.EchoCancellation = true
	preferredAudio.NoiseSuppression = true
	minimalAudio := audio

	return media.Config{
		Preferred: ports.Constraints{
			Video: &ports.VideoConstraints{
				Width:     cfg.Media.Width,
				Height:    cfg.Media.Height,
				FrameRate: cfg.Media.FrameRate,
				Device:    cfg.Media.VideoDevice,
			},
			Audio: &preferredAudio,
		},
		Minimal: ports.Constraints{
			Video: &ports.VideoConstraints{Device: cfg.Media.VideoDevice},
			Audio: &minimalAudio,
		},
		PermissionAttempts: cfg.Media.PermissionAttempts,
		PermissionBackoff:  cfg.Media.PermissionBackoff,
		ChunkDuration:      cfg.Session.AudioChunkDuration,
	}
}
