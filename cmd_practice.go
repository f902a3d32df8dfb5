package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"interviewcoach/internal/bootstrap"
	"interviewcoach/internal/restapi"
	"interviewcoach/internal/tui"
)

// PracticeCmd runs one live interview. Without a session id a new session
// is created from the job details first.
type PracticeCmd struct {
	SessionID string `arg:"" optional:"" help:"Existing session id to join"`

	Position           string `help:"Position to interview for (creates a session)"`
	Company            string `help:"Company name (creates a session)"`
	JobDescription     string `help:"Job description text (creates a session)" name:"job-description"`
	JobDescriptionFile string `help:"Read the job description from a file" type:"existingfile" name:"job-description-file"`
	Resume             string `help:"Resume file to upload with a new session" type:"existingfile"`

	ScreenshotDir string `help:"Directory for camera screenshots" type:"path" default:"."`
	LogFile       string `help:"Log file for the session (keeps the terminal clean)" type:"path" default:"~/.config/interviewcoach/practice.log"`
}

// Run executes the practice command.
func (p *PracticeCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{LogFile: p.LogFile})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID, position, err := p.resolveSession(ctx, rt.API)
	if err != nil {
		return err
	}
	log := rt.Log.WithField("session", sessionID)
	log.Info("starting practice session")

	app := NewApp(sessionID, position, rt.Store, rt.Log)
	session, err := rt.NewSession(sessionID, app)
	if err != nil {
		return err
	}

	model := tui.New(ctx, session.Coordinator, tui.Options{
		SessionID:     sessionID,
		Position:      position,
		ScreenshotDir: p.ScreenshotDir,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	app.Start(program.Send)

	_, runErr := program.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}
	closeErr := session.Coordinator.Close()
	app.Stop()

	snap := session.Coordinator.Snapshot()
	out := cli.stdout()
	switch {
	case snap.Feedback != nil:
		fmt.Fprintf(out, "Session %s complete. Overall score: %.1f\n", sessionID, snap.Feedback.OverallScore)
	case snap.Error != "":
		fmt.Fprintf(out, "Session %s ended: %s\n", sessionID, snap.Error)
	default:
		fmt.Fprintf(out, "Session %s ended (%s)\n", sessionID, snap.Status)
	}
	return errors.Join(runErr, closeErr)
}

func (p *PracticeCmd) resolveSession(ctx context.Context, api *restapi.Client) (string, string, error) {
	if id := strings.TrimSpace(p.SessionID); id != "" {
		return id, p.Position, nil
	}

	description := p.JobDescription
	if p.JobDescriptionFile != "" {
		data, err := os.ReadFile(p.JobDescriptionFile)
		if err != nil {
			return "", "", fmt.Errorf("failed to read job description: %w", err)
		}
		description = string(data)
	}
	if strings.TrimSpace(description) == "" || strings.TrimSpace(p.Position) == "" {
		return "", "", errors.New("pass a session id, or --position with --job-description to create one")
	}

	created, err := api.CreateSession(ctx, restapi.NewSession{
		JobDescription: description,
		CompanyName:    p.Company,
		Position:       p.Position,
	}, p.Resume)
	if err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	return created.ID, created.Position, nil
}
