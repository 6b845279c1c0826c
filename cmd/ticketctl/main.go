// Package main is ticketctl, the operator client for incident tickets.
//
// It reads the same environment as the Lambdas (loaded from .env when
// present) and talks to the ticket store and recording storage directly.
//
// Examples:
//
//	ticketctl list --limit 20
//	ticketctl watch
//	ticketctl show 6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00
//	ticketctl retry 6f1c1c6e-8a55-4b1e-9d7a-1b7c3d5e2f00 --inline
//	ticketctl upload                      # native file picker, prompts for roles
//	ticketctl upload a.m4a b.m4a --roles customer,manager --ingest
//	ticketctl --local upload a.m4a        # one-shot in-memory run, processed inline
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/incident-tickets/internal/cli"
	"github.com/fpang/incident-tickets/internal/logging"
)

// CLI flags
var (
	envFileFlag string
	localFlag   bool
	inlineFlag  bool
)

// rootCmd is the main Cobra command for the ticketctl CLI.
var rootCmd = &cobra.Command{
	Use:   "ticketctl",
	Short: "Inspect and manage restaurant incident tickets",
	Long: `ticketctl lists, watches and inspects incident tickets created from
uploaded call recordings, retries failed processing, clears error logs,
exports ticket bundles and uploads new incidents.

Configuration comes from the environment, optionally loaded from a .env
file: TICKET_STORE, STORAGE_BACKEND, RECORDINGS_BUCKET_NAME, GEMINI_API_KEY
and the rest of the Lambda settings.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.LoadEnv(envFileFlag, cmd.Flags().Changed("env-file")); err != nil {
			return err
		}
		logging.Init()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Environment file to load")
	rootCmd.PersistentFlags().BoolVar(&localFlag, "local", false, "Use an in-memory store and storage for this run only")
	rootCmd.PersistentFlags().BoolVar(&inlineFlag, "inline", false, "Process tickets in this process instead of dispatching to the pipeline")

	rootCmd.AddCommand(listCmd, watchCmd, showCmd, retryCmd, clearErrorsCmd, exportCmd,
		uploadCmd, ingestCmd, processCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("ticketctl failed")
		os.Exit(1)
	}
}
