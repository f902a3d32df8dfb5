package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"interviewcoach/internal/bootstrap"
	"interviewcoach/internal/restapi"
	"interviewcoach/internal/storage"
)

// SessionsCmd manages backend sessions.
type SessionsCmd struct {
	List    SessionsListCmd    `cmd:"" help:"List your sessions" default:"1"`
	Show    SessionsShowCmd    `cmd:"" help:"Show one session with its answers and feedback"`
	Create  SessionsCreateCmd  `cmd:"" help:"Create a session without starting it"`
	Delete  SessionsDeleteCmd  `cmd:"" aliases:"del" help:"Delete a session"`
	Compare SessionsCompareCmd `cmd:"" help:"Compare two completed sessions"`
}

// SessionsListCmd lists sessions.
type SessionsListCmd struct {
	OutputFormat `embed:""`
	Limit        int `help:"Maximum sessions to list" default:"20"`
	Skip         int `help:"Sessions to skip" default:"0"`
}

func (s *SessionsListCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	sessions, err := rt.API.ListSessions(context.Background(), s.Limit, s.Skip)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", apiErrorHint(err))
	}
	if s.JSON() {
		return cli.printJSON(sessions)
	}

	w := tabwriter.NewWriter(cli.stdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOSITION\tCOMPANY\tSTATUS\tSCORE\tMINUTES\tDATE")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sess.ID,
			sess.Position,
			sess.CompanyName,
			sess.Status,
			optionalFloat(sess.OverallScore, "%.1f"),
			optionalFloat(sess.DurationMinutes, "%.1f"),
			sess.SessionDate.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Fprintf(cli.stdout(), "\nTotal: %d sessions\n", len(sessions))
	return nil
}

// SessionsShowCmd prints one session.
type SessionsShowCmd struct {
	OutputFormat `embed:""`
	ID           string `arg:"" help:"Session id"`
}

func (s *SessionsShowCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	detail, err := rt.API.GetSession(context.Background(), s.ID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", apiErrorHint(err))
	}
	if s.JSON() {
		return cli.printJSON(detail)
	}

	out := cli.stdout()
	fmt.Fprintf(out, "Session:   %s\n", detail.ID)
	fmt.Fprintf(out, "Position:  %s\n", detail.Position)
	if detail.CompanyName != "" {
		fmt.Fprintf(out, "Company:   %s\n", detail.CompanyName)
	}
	fmt.Fprintf(out, "Status:    %s\n", detail.Status)
	fmt.Fprintf(out, "Score:     %s\n", optionalFloat(detail.OverallScore, "%.1f"))
	fmt.Fprintf(out, "Duration:  %s min\n", optionalFloat(detail.DurationMinutes, "%.1f"))

	if len(detail.Responses) > 0 {
		fmt.Fprintln(out, "\nAnswers:")
		for i, resp := range detail.Responses {
			fmt.Fprintf(out, "  %d. %v\n", i+1, resp["question"])
			fmt.Fprintf(out, "     %v\n", resp["answer"])
			if score, ok := resp["score"]; ok && score != nil {
				fmt.Fprintf(out, "     score: %v\n", score)
			}
		}
	}
	printList(out, "Strengths", detail.Strengths)
	printList(out, "To improve", detail.Improvements)
	return nil
}

// SessionsCreateCmd creates a session.
type SessionsCreateCmd struct {
	Position           string `help:"Position to interview for" required:""`
	Company            string `help:"Company name"`
	JobDescription     string `help:"Job description text" name:"job-description" xor:"jd" required:""`
	JobDescriptionFile string `help:"Read the job description from a file" type:"existingfile" name:"job-description-file" xor:"jd" required:""`
	Resume             string `help:"Resume file to upload" type:"existingfile"`
}

func (s *SessionsCreateCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	description := s.JobDescription
	if s.JobDescriptionFile != "" {
		data, err := os.ReadFile(s.JobDescriptionFile)
		if err != nil {
			return fmt.Errorf("failed to read job description: %w", err)
		}
		description = string(data)
	}

	created, err := rt.API.CreateSession(context.Background(), restapi.NewSession{
		JobDescription: description,
		CompanyName:    s.Company,
		Position:       s.Position,
	}, s.Resume)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", apiErrorHint(err))
	}
	fmt.Fprintf(cli.stdout(), "Created session %s\nStart it with: interviewcoach practice %s\n", created.ID, created.ID)
	return nil
}

// SessionsDeleteCmd deletes a session.
type SessionsDeleteCmd struct {
	ID string `arg:"" help:"Session id"`
}

func (s *SessionsDeleteCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := rt.API.DeleteSession(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", apiErrorHint(err))
	}
	if err := rt.Store.DeleteHistory(ctx, s.ID); err != nil {
		rt.Log.WithError(err).Warn("failed to delete local history entry")
	}
	fmt.Fprintf(cli.stdout(), "Deleted session %s\n", s.ID)
	return nil
}

// SessionsCompareCmd compares two sessions.
type SessionsCompareCmd struct {
	OutputFormat `embed:""`
	First        string `arg:"" help:"Earlier session id"`
	Second       string `arg:"" help:"Later session id"`
}

func (s *SessionsCompareCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	cmp, err := rt.API.CompareSessions(context.Background(), s.First, s.Second)
	if err != nil {
		return fmt.Errorf("failed to compare sessions: %w", apiErrorHint(err))
	}
	if s.JSON() {
		return cli.printJSON(cmp)
	}

	out := cli.stdout()
	fmt.Fprintf(out, "%s (%.1f) -> %s (%.1f): %+.1f\n",
		cmp.Session1.ID, cmp.Session1.OverallScore,
		cmp.Session2.ID, cmp.Session2.OverallScore,
		cmp.OverallImprovement.ScoreChange)

	names := make([]string, 0, len(cmp.MetricsComparison))
	for name := range cmp.MetricsComparison {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METRIC\tBEFORE\tAFTER\tCHANGE")
		for _, name := range names {
			m := cmp.MetricsComparison[name]
			fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%+.1f\n", name, m.Session1Value, m.Session2Value, m.Change)
		}
		w.Flush()
	}
	return nil
}

func optionalFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", strings.TrimSpace(item))
	}
}

// apiErrorHint points at login when a request failed for lack of a valid
// token.
func apiErrorHint(err error) error {
	if restapi.IsStatus(err, http.StatusUnauthorized) ||
		errors.Is(err, storage.ErrNoToken) ||
		errors.Is(err, storage.ErrTokenExpired) {
		return fmt.Errorf("%w (run `interviewcoach login` first)", err)
	}
	return err
}
