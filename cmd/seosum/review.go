package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ramkansal/seosum/internal/model"
	"github.com/ramkansal/seosum/internal/sink"
	"github.com/spf13/cobra"
)

type reviewFlags struct {
	format string
	filter string
	sort   string
	desc   bool
	limit  int
}

func reviewCmd() *cobra.Command {
	f := &reviewFlags{}
	cmd := &cobra.Command{
		Use:   "review <path>",
		Short: "Load a previously saved CSV/JSON dataset and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(args[0], f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", "", "input format override: csv or json (default: inferred from extension)")
	flags.StringVar(&f.filter, "filter", "", "advanced filter query (status:, issue:, url:, title:, meta:, host:, retrieval:, !negation)")
	flags.StringVar(&f.sort, "sort", "latest", "sort mode: latest, status, lowest_seo_score, highest_response_time")
	flags.BoolVar(&f.desc, "desc", false, "sort descending instead of ascending")
	flags.IntVar(&f.limit, "limit", 0, "limit the number of rows printed (0 = all)")
	return cmd
}

func runReview(path string, f *reviewFlags) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	format := sink.DetectFormat(path, sink.Format(strings.ToLower(f.format)))
	rows, err := sink.LoadRows(file, format)
	if err != nil {
		return fmt.Errorf("loading rows: %w", err)
	}

	state := model.NewAppState()
	for _, row := range rows {
		state.PushRow(row, row.OutgoingLinks)
	}

	direction := model.Ascending
	if f.desc {
		direction = model.Descending
	}
	filtered := state.FilteredRowsSorted(f.filter, model.SortMode(f.sort), direction)
	if f.limit > 0 && len(filtered) > f.limit {
		filtered = filtered[:f.limit]
	}

	for _, row := range filtered {
		fmt.Printf("  %s [%d] score:%d %s\n", row.URL, row.Status, row.SeoScore, strings.Join(issueLabels(row.Issues), ","))
	}

	fmt.Println()
	fmt.Printf("  %s rows loaded, %s matched filter\n", clr("cyan", fmt.Sprintf("%d", len(rows))), clr("cyan", fmt.Sprintf("%d", len(filtered))))
	fmt.Printf("  %s %.1f\n", clr("dim", "Average SEO score:"), state.AverageSeoScore())

	top := state.TopIssues(5)
	if len(top) > 0 {
		fmt.Printf("  %s\n", clr("dim", "Top issues:"))
		for _, ic := range top {
			fmt.Printf("    %s: %d\n", ic.Issue, ic.Count)
		}
	}
	return nil
}

func issueLabels(issues []model.SeoIssue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, string(issue))
	}
	return out
}
