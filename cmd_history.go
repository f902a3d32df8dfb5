package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"interviewcoach/internal/bootstrap"
	"interviewcoach/internal/domain"
	"interviewcoach/internal/storage"
)

// HistoryCmd browses locally recorded sessions.
type HistoryCmd struct {
	List   HistoryListCmd   `cmd:"" help:"List recorded sessions" default:"1"`
	Show   HistoryShowCmd   `cmd:"" help:"Show the feedback of a recorded session"`
	Delete HistoryDeleteCmd `cmd:"" aliases:"del" help:"Forget a recorded session"`
}

// HistoryListCmd lists recorded sessions.
type HistoryListCmd struct {
	OutputFormat `embed:""`
	Limit        int `help:"Maximum entries (0 = all)" default:"20"`
}

func (h *HistoryListCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	records, err := rt.Store.History(context.Background(), h.Limit)
	if err != nil {
		return err
	}
	if h.JSON() {
		return cli.printJSON(records)
	}

	w := tabwriter.NewWriter(cli.stdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPOSITION\tSTATUS\tANSWERS\tSCORE\tSTARTED\tMINUTES")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%.1f\n",
			r.SessionID,
			r.Position,
			r.Status,
			r.AnswersSent,
			r.QuestionCount,
			recordScore(r),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.EndedAt.Sub(r.StartedAt).Minutes())
	}
	w.Flush()
	fmt.Fprintf(cli.stdout(), "\nTotal: %d sessions\n", len(records))
	return nil
}

// HistoryShowCmd shows one recorded session.
type HistoryShowCmd struct {
	OutputFormat `embed:""`
	ID           string `arg:"" help:"Session id"`
}

func (h *HistoryShowCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	record, err := rt.Store.HistoryEntry(context.Background(), h.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no recorded session %s", h.ID)
	}
	if err != nil {
		return err
	}
	if h.JSON() {
		return cli.printJSON(record)
	}

	out := cli.stdout()
	fmt.Fprintf(out, "Session:  %s\n", record.SessionID)
	if record.Position != "" {
		fmt.Fprintf(out, "Position: %s\n", record.Position)
	}
	fmt.Fprintf(out, "Status:   %s\n", record.Status)
	fmt.Fprintf(out, "Answers:  %d of %d questions\n", record.AnswersSent, record.QuestionCount)
	fmt.Fprintf(out, "Score:    %s\n", recordScore(record))

	if fb := record.Feedback; fb != nil {
		if fb.Summary != "" {
			fmt.Fprintf(out, "\n%s\n", fb.Summary)
		}
		printList(out, "Strengths", fb.Strengths)
		printList(out, "To improve", fb.Improvements)
	}
	return nil
}

// HistoryDeleteCmd removes a recorded session.
type HistoryDeleteCmd struct {
	ID string `arg:"" help:"Session id"`
}

func (h *HistoryDeleteCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	if err := rt.Store.DeleteHistory(context.Background(), h.ID); err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout(), "Forgot session %s\n", h.ID)
	return nil
}

func recordScore(r domain.SessionRecord) string {
	if r.Feedback == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", r.Feedback.OverallScore)
}
