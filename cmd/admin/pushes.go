package main

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/onexay/pushwatch/internal/types"
)

func newPushesCommand(opts *rootOptions) *cobra.Command {
	var (
		tree   string
		high   int64
		limit  int
		nested bool
	)

	cmd := &cobra.Command{
		Use:   "pushes",
		Short: "List the most recent pushes of a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tree == "" {
				return errors.New("--tree is required")
			}
			query := url.Values{}
			if high > 0 {
				query.Set("highpushid", strconv.FormatInt(high, 10))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}

			var pushes []*types.BuildPush
			if err := getJSON(cmd.Context(), opts.API, "/api/v1/tree/"+url.PathEscape(tree)+"/pushes", query, &pushes); err != nil {
				return err
			}
			if opts.JSON {
				return writeIndented(cmd.OutOrStdout(), pushes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Push\tDate\tPusher\tBuilds\tWorst\tKey\n")
			for _, bp := range pushes {
				writePushRow(tw, bp, nested)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&tree, "tree", "", "Tree name (required)")
	cmd.Flags().Int64Var(&high, "high", 0, "Highest push id to list (0 for newest)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of pushes")
	cmd.Flags().BoolVar(&nested, "nested", false, "Also list sub-pushes")
	return cmd
}

func writePushRow(tw *tabwriter.Writer, bp *types.BuildPush, nested bool) {
	worst := "-"
	builds := 0
	if bp.BuildSummary != nil {
		worst = bp.BuildSummary.Worst
		builds = bp.BuildSummary.Total
	}
	fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
		bp.Push.ID,
		bp.Push.PushDate.UTC().Format(time.RFC3339),
		bp.Push.Pusher.Name,
		builds,
		worst,
		bp.Key,
	)
	if !nested {
		return
	}
	for _, sub := range bp.SubPushes {
		writePushRow(tw, sub, true)
	}
}
