package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultAPI = "http://localhost:8080"

type rootOptions struct {
	API  string
	JSON bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "pushwatch-admin",
		Short:         "Inspect and feed pushwatch trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.API, "api", envDefault("PUSHWATCH_API", defaultAPI), "Base URL of the pushwatch REST API")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output JSON instead of table")

	cmd.AddCommand(newChewCommand(opts))
	cmd.AddCommand(newPushesCommand(opts))
	cmd.AddCommand(newPolicyCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
