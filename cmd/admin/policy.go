package main

import (
	"errors"
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onexay/pushwatch/internal/service"
)

func newPolicyCommand(opts *rootOptions) *cobra.Command {
	var tree string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show the log retention policy of a tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tree == "" {
				return errors.New("--tree is required")
			}

			var policy service.PolicyResponse
			if err := getJSON(cmd.Context(), opts.API, "/api/v1/policies", url.Values{"tree": {tree}}, &policy); err != nil {
				return err
			}
			if opts.JSON {
				return writeIndented(cmd.OutOrStdout(), policy)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Tree\tHotLimit\tHotDuration\tLocked\n")
			fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", policy.Tree, policy.HotPushLimit, policy.HotDuration, policy.Locked)
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&tree, "tree", "", "Tree name (required)")
	return cmd
}
