package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	serverURL string
	actorFlag string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "schedctl",
	Short: "CLI for the production schedule coordination server",
	Long: `schedctl manages production schedules over the schedule server HTTP API.

It covers the full schedule lifecycle: creating schedules and entries,
sequencing, feasibility checks, constraint overrides, dispatching entries
to the work order system, and browsing the transition history.

Mutating commands need an actor identity; pass one with --actor or the
SCHED_ACTOR environment variable.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		bindEnv(cmd)
	},
}

// bindEnv fills unset persistent flags from SCHED_* environment variables,
// so SCHED_SERVER, SCHED_ACTOR, and SCHED_OUTPUT work as defaults.
func bindEnv(cmd *cobra.Command) {
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		env := "SCHED_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(env); ok {
			_ = f.Value.Set(v)
		}
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Schedule server URL")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor identity sent as X-Remote-User (default: SCHED_ACTOR env)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(sequenceCmd)
	rootCmd.AddCommand(feasibilityCmd)
	rootCmd.AddCommand(constraintsCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(dispatchesCmd)
	rootCmd.AddCommand(historyCmd)
}

// resolvedActor returns the effective actor identity. bindEnv already
// filled the flag from SCHED_ACTOR when it was not set explicitly.
func resolvedActor() string {
	return actorFlag
}
