package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onexay/pushwatch/internal/config"
	"github.com/onexay/pushwatch/internal/service"
)

func newChewCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chew <log>...",
		Short: "Ingest local test logs as pushes of the local tree",
		Long: `Parse each log and store it as a new synthetic push of the local tree,
using the storage backend configured in the environment (STORAGE_BACKEND,
KEYDB_*). Each log becomes its own push, in argument order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())

			svc, err := service.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if !opts.JSON {
				fmt.Fprintf(tw, "Push\tState\tNotified\tLog\n")
			}
			for _, path := range args {
				res, err := svc.Chew(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("chew %s: %w", path, err)
				}
				if opts.JSON {
					if err := json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
						"pushId":   res.PushID,
						"state":    res.State,
						"notified": res.Notified,
						"log":      path,
					}); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", res.PushID, res.State, res.Notified, path)
			}
			return tw.Flush()
		},
	}
}
