package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/incident-tickets/internal/cli"
	"github.com/fpang/incident-tickets/internal/ingest"
	"github.com/fpang/incident-tickets/internal/storage"
	"github.com/fpang/incident-tickets/internal/store"
)

var (
	rolesFlag        []string
	incidentTimeFlag string
	ingestFlag       bool
)

const incidentTimeLayout = "2006-01-02 15:04"

var uploadCmd = &cobra.Command{
	Use:   "upload [recording...]",
	Short: "Upload call recordings as a new incident",
	Long: `Uploads the recordings and then the incident manifest. With no arguments
a native file picker opens. Roles come from --roles in file order, or are
prompted for each file.

In a deployment the manifest upload triggers ingestion. Pass --ingest to
create the ticket directly (for MinIO or other stores without triggers);
--local implies it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		paths := args
		if len(paths) == 0 {
			selected, err := cli.SelectRecordings()
			if err != nil {
				return err
			}
			paths = selected
		}
		paths, err := cli.ValidateRecordings(paths)
		if err != nil {
			return err
		}

		roles, err := resolveRoles(paths, rolesFlag)
		if err != nil {
			return err
		}
		incident, err := parseIncidentTime(incidentTimeFlag, time.Now())
		if err != nil {
			return err
		}

		a := newApp()
		plan, err := uploadIncident(ctx, a.gateway, paths, roles, incident, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %d recordings to %s\n", len(plan.Objects), plan.StoragePath)

		if !ingestFlag && !localFlag {
			return nil
		}
		res, err := a.ingester().Ingest(ctx, plan.ManifestKey)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return printStatus(ctx, a, res.TicketID)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <manifest-key>",
	Short: "Create a ticket from an uploaded incident manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newApp().ingester().Ingest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process <ticket-id>",
	Short: "Process a ticket in this process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := newApp()
		t, err := a.loadTicket(ctx, args[0])
		if err != nil {
			return err
		}
		out := a.Process(ctx, t.Ref())
		switch {
		case out.Skipped:
			fmt.Printf("Ticket %s is already processing or done.\n", t.ID)
		case out.Failed:
			return fmt.Errorf("ticket %s failed: %s", t.ID, out.Err)
		default:
			fmt.Printf("Ticket %s is %s.\n", t.ID, out.Status)
		}
		return nil
	},
}

// resolveRoles takes roles from the flag, or prompts for each path.
func resolveRoles(paths, flagRoles []string) ([]store.Role, error) {
	if len(flagRoles) > 0 {
		if len(flagRoles) != len(paths) {
			return nil, fmt.Errorf("--roles has %d entries for %d recordings", len(flagRoles), len(paths))
		}
		roles := make([]store.Role, len(flagRoles))
		for i, r := range flagRoles {
			role, err := store.ParseRole(r)
			if err != nil {
				return nil, err
			}
			roles[i] = role
		}
		return roles, nil
	}

	in := bufio.NewReader(os.Stdin)
	roles := make([]store.Role, len(paths))
	for i, p := range paths {
		role, err := cli.PromptForRole(in, os.Stdout, p)
		if err != nil {
			return nil, err
		}
		roles[i] = role
	}
	return roles, nil
}

// parseIncidentTime accepts RFC 3339 or local "YYYY-MM-DD HH:MM"; empty is now.
func parseIncidentTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(incidentTimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("incident time %q: want RFC 3339 or %q", s, incidentTimeLayout)
	}
	return t, nil
}

// uploadIncident plans keys for paths, uploads every recording and writes
// the manifest last. Each recording's time is its file modification time.
func uploadIncident(ctx context.Context, gw storage.Gateway, paths []string, roles []store.Role, incident, now time.Time) (*ingest.UploadPlan, error) {
	files := make([]ingest.UploadFile, len(paths))
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		files[i] = ingest.UploadFile{FileName: p, Role: string(roles[i]), RecordedAt: info.ModTime()}
	}

	plan, err := ingest.PlanUpload(ingest.NewStoragePath(now), incident, files)
	if err != nil {
		return nil, err
	}
	for _, obj := range plan.Objects {
		data, err := os.ReadFile(paths[obj.Index])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", paths[obj.Index], err)
		}
		if _, err := gw.Upload(ctx, obj.Key, data, obj.ContentType); err != nil {
			return nil, fmt.Errorf("upload %s: %w", obj.Key, err)
		}
		log.Debug().Str("key", obj.Key).Int("bytes", len(data)).Msg("Recording uploaded")
	}

	manifest, err := plan.ManifestJSON()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := gw.Upload(ctx, plan.ManifestKey, manifest, "application/json"); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}
	return plan, nil
}

func init() {
	uploadCmd.Flags().StringSliceVar(&rolesFlag, "roles", nil, "Comma-separated roles in file order (customer, manager, other)")
	uploadCmd.Flags().StringVar(&incidentTimeFlag, "incident-time", "", `Incident time, RFC 3339 or "YYYY-MM-DD HH:MM" local (default now)`)
	uploadCmd.Flags().BoolVar(&ingestFlag, "ingest", false, "Create the ticket immediately after upload")
}
