package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"interviewcoach/internal/bootstrap"
)

// CLI is the command-line interface.
type CLI struct {
	Version  kong.VersionFlag `help:"Show version information"`
	Config   string           `help:"Path to a YAML config file (falls back to INTERVIEWCOACH_CONFIG)"`
	LogLevel string           `help:"Log level (trace, debug, info, warn, error)" env:"LOG_LEVEL"`

	Practice  PracticeCmd  `cmd:"" help:"Run a live interview session in the terminal"`
	Sessions  SessionsCmd  `cmd:"" help:"Manage interview sessions on the backend"`
	Progress  ProgressCmd  `cmd:"" help:"Show score progress across completed sessions"`
	Summary   SummaryCmd   `cmd:"" help:"Show overall performance and weak areas"`
	Trends    TrendsCmd    `cmd:"" help:"Show score trends over a time window"`
	WeakAreas WeakAreasCmd `cmd:"weak-areas" help:"Show the weakest performance areas"`
	Analytics AnalyticsCmd `cmd:"" help:"Show raw analytics for one session"`

	Login    LoginCmd    `cmd:"" help:"Sign in and store the access token"`
	Register RegisterCmd `cmd:"" help:"Create an account and sign in"`
	Logout   LogoutCmd   `cmd:"" help:"Sign out and forget the stored token"`
	Whoami   WhoamiCmd   `cmd:"" help:"Show the signed-in user"`

	History    HistoryCmd    `cmd:"" help:"Browse locally recorded practice sessions"`
	MockServer MockServerCmd `cmd:"mock-server" help:"Run a local interviewer backend for practice and testing"`

	out     io.Writer           `kong:"-"`
	runtime *bootstrap.Runtime `kong:"-"`
}

// open builds the shared runtime once per process.
func (c *CLI) open(opts bootstrap.Options) (*bootstrap.Runtime, error) {
	if c.runtime != nil {
		return c.runtime, nil
	}
	opts.ConfigPath = c.Config
	if opts.LogLevel == "" {
		opts.LogLevel = c.LogLevel
	}
	rt, err := bootstrap.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	c.runtime = rt
	return rt, nil
}

// Close releases the runtime if a command opened one.
func (c *CLI) Close() error {
	if c.runtime == nil {
		return nil
	}
	err := c.runtime.Close()
	c.runtime = nil
	return err
}

func (c *CLI) stdout() io.Writer {
	if c.out != nil {
		return c.out
	}
	return os.Stdout
}

func (c *CLI) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(c.stdout(), string(data))
	return err
}

// OutputFormat is embedded by commands that can print a table or JSON.
type OutputFormat struct {
	Format string `help:"Output format: table or json" enum:"table,json" default:"table" short:"o"`
}

func (f OutputFormat) JSON() bool { return f.Format == "json" }
