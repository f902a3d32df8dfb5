package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"interviewcoach/internal/bootstrap"
	"interviewcoach/internal/restapi"
)

// ProgressCmd shows score progress.
type ProgressCmd struct {
	OutputFormat `embed:""`
}

func (p *ProgressCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	progress, err := rt.API.ProgressStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get progress: %w", apiErrorHint(err))
	}
	if p.JSON() {
		return cli.printJSON(progress)
	}

	out := cli.stdout()
	if progress.TotalSessions == 0 {
		fmt.Fprintln(out, messageOr(progress.Message, "No completed sessions yet."))
		return nil
	}
	fmt.Fprintf(out, "Sessions:      %d (%.0f min practiced)\n", progress.TotalSessions, progress.TotalPracticeTimeMinutes)
	fmt.Fprintf(out, "Average score: %.1f (high %.1f, low %.1f)\n", progress.AverageScore, progress.HighestScore, progress.LowestScore)
	fmt.Fprintf(out, "Improvement:   %+.1f%%\n", progress.ImprovementRate)

	if len(progress.ScoreTrend) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tDATE\tPOSITION\tSCORE")
		for _, pt := range progress.ScoreTrend {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\n", pt.SessionNumber, pt.Date.Local().Format("2006-01-02"), pt.Position, pt.Score)
		}
		w.Flush()
	}
	return nil
}

// SummaryCmd shows the user summary together with weak areas.
type SummaryCmd struct {
	OutputFormat `embed:""`
}

func (s *SummaryCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}

	var (
		summary *restapi.Summary
		weak    *restapi.WeakAreas
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		summary, err = rt.API.UserSummary(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		weak, err = rt.API.WeakAreas(ctx, 3)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to get summary: %w", apiErrorHint(err))
	}

	if s.JSON() {
		return cli.printJSON(map[string]any{"summary": summary, "weak_areas": weak})
	}

	out := cli.stdout()
	if summary.TotalSessions == 0 {
		fmt.Fprintln(out, messageOr(summary.Message, "No completed sessions yet."))
		return nil
	}
	fmt.Fprintf(out, "Sessions:       %d (%.0f min practiced)\n", summary.TotalSessions, summary.TotalPracticeTime)
	fmt.Fprintf(out, "Average score:  %.1f\n", summary.AverageScore)
	fmt.Fprintf(out, "Highest score:  %.1f\n", summary.HighestScore)
	fmt.Fprintf(out, "Latest score:   %.1f\n", summary.LatestScore)
	fmt.Fprintf(out, "Trend:          %+.1f\n", summary.ImprovementTrend)
	printWeakAreas(cli, weak)
	return nil
}

// TrendsCmd shows score trends.
type TrendsCmd struct {
	Days int `help:"Time window in days" default:"30"`
}

func (t *TrendsCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	trends, err := rt.API.UserTrends(context.Background(), t.Days)
	if err != nil {
		return fmt.Errorf("failed to get trends: %w", apiErrorHint(err))
	}
	return cli.printJSON(trends)
}

// WeakAreasCmd shows weak areas.
type WeakAreasCmd struct {
	OutputFormat `embed:""`
	Limit        int `help:"Maximum areas to show" default:"5"`
}

func (w *WeakAreasCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	weak, err := rt.API.WeakAreas(context.Background(), w.Limit)
	if err != nil {
		return fmt.Errorf("failed to get weak areas: %w", apiErrorHint(err))
	}
	if w.JSON() {
		return cli.printJSON(weak)
	}
	printWeakAreas(cli, weak)
	return nil
}

// AnalyticsCmd prints one session's analytics.
type AnalyticsCmd struct {
	ID string `arg:"" help:"Session id"`
}

func (a *AnalyticsCmd) Run(cli *CLI) error {
	rt, err := cli.open(bootstrap.Options{})
	if err != nil {
		return err
	}
	analytics, err := rt.API.SessionAnalytics(context.Background(), a.ID)
	if err != nil {
		return fmt.Errorf("failed to get analytics: %w", apiErrorHint(err))
	}
	return cli.printJSON(analytics)
}

func printWeakAreas(cli *CLI, weak *restapi.WeakAreas) {
	out := cli.stdout()
	if weak == nil || len(weak.WeakAreas) == 0 {
		msg := "No weak areas identified."
		if weak != nil {
			msg = messageOr(weak.Message, msg)
		}
		fmt.Fprintln(out, msg)
		return
	}
	fmt.Fprintf(out, "\nWeak areas (%d sessions analyzed):\n", weak.SessionsAnalyzed)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AREA\tSCORE\tSEVERITY\tSUGGESTION")
	for _, area := range weak.WeakAreas {
		fmt.Fprintf(w, "%s\t%.1f\t%s\t%s\n", area.Area, area.AverageScore, area.Severity, area.Suggestion)
	}
	w.Flush()
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
