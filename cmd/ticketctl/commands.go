package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/incident-tickets/internal/bundle"
	"github.com/fpang/incident-tickets/internal/cli"
	"github.com/fpang/incident-tickets/internal/statusview"
	"github.com/fpang/incident-tickets/internal/store"
)

var (
	limitFlag    int
	intervalFlag time.Duration
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		tickets, err := a.store.ListTickets(cmd.Context(), store.ListOptions{Limit: limitFlag})
		if err != nil {
			return err
		}
		cli.PrintTickets(os.Stdout, tickets, time.Now())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll tickets and print status changes until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		first := true
		tracker := statusview.NewTracker(a.store, intervalFlag, store.ListOptions{Limit: limitFlag},
			func(changed, all []*store.Ticket) {
				now := time.Now()
				if first {
					first = false
					cli.PrintTickets(os.Stdout, all, now)
					return
				}
				for _, t := range changed {
					fmt.Printf("%s  %s -> %s  %s\n", now.Format("15:04:05"), t.ID, t.Status, cli.TicketSummary(t))
				}
			})
		if err := tracker.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show a ticket with its recordings and, if failed, its errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		t, err := a.loadTicket(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		d, err := statusview.Details(cmd.Context(), a.store, t)
		if err != nil {
			return err
		}
		cli.PrintDetails(os.Stdout, d)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <ticket-id>",
	Short: "Re-run processing for a pending or failed ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		if _, err := a.actions().Retry(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printStatus(cmd.Context(), a, args[0])
	},
}

var clearErrorsCmd = &cobra.Command{
	Use:   "clear-errors <ticket-id>",
	Short: "Delete a ticket's error log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newApp().actions().ClearErrors(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d errors.\n", n)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <ticket-id>",
	Short: "Build a zip bundle of a ticket and print a download URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp()
		t, err := a.loadTicket(ctx, args[0])
		if err != nil {
			return err
		}
		recs, err := a.store.ListRecordings(ctx, t.ID)
		if err != nil {
			return err
		}
		key, err := bundle.Build(ctx, a.gateway, t, recs)
		if err != nil {
			return err
		}
		url, err := a.gateway.PresignDownload(ctx, key, time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Bundle: %s\nURL:    %s\n", key, url)
		return nil
	},
}

func printStatus(ctx context.Context, a *app, id string) error {
	t, err := a.loadTicket(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Ticket %s is %s.\n", t.ID, t.Status)
	return nil
}

func init() {
	listCmd.Flags().IntVarP(&limitFlag, "limit", "n", store.DefaultListLimit, "Maximum tickets to list")
	watchCmd.Flags().IntVarP(&limitFlag, "limit", "n", store.DefaultListLimit, "Maximum tickets to track")
	watchCmd.Flags().DurationVar(&intervalFlag, "interval", statusview.DefaultInterval, "Polling interval")
}
