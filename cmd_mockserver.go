package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"interviewcoach/internal/logger"
	"interviewcoach/internal/mockserver"
)

// MockServerCmd runs the local interviewer backend.
type MockServerCmd struct {
	Addr           string        `help:"Listen address" default:"127.0.0.1:8000"`
	Secret         string        `help:"Token signing secret (random when empty)" env:"INTERVIEWCOACH_MOCK_SECRET"`
	Heartbeat      time.Duration `help:"Heartbeat interval on interview sockets" default:"30s"`
	AnalyticsEvery int           `help:"Send analytics every N video frames" default:"10"`
	IssueToken     string        `help:"Print a token for this email at startup" name:"issue-token"`
}

func (m *MockServerCmd) Run(cli *CLI) error {
	log, closer, err := logger.New(logger.Options{Level: cli.LogLevel, Format: "text"})
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := mockserver.New(mockserver.Options{
		Secret:            m.Secret,
		HeartbeatInterval: m.Heartbeat,
		AnalyticsEvery:    m.AnalyticsEvery,
	}, log)

	if m.IssueToken != "" {
		token, err := srv.IssueToken(m.IssueToken)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintf(cli.stdout(), "export INTERVIEWCOACH_TOKEN=%s\n", token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, m.Addr)
}
