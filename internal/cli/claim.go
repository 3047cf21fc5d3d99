package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/pager/internal/backend"
	"github.com/linnemanlabs/pager/internal/routing"
)

func claimCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Inspect idempotency records",
	}
	cmd.AddCommand(claimGetCmd(open))
	return cmd
}

func claimGetCmd(open Opener) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get [message-id]",
		Short: "Show the live idempotency record of a message id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend.Backend) error {
				rec, ok, err := b.Guard.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to read record: %w", err)
				}
				if !ok {
					return fmt.Errorf("no live record for message %s", args[0])
				}

				w := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(rec)
				}

				fmt.Fprintf(w, "Message %s\n", rec.MessageID)
				fmt.Fprintf(w, "  %s %s\n", label.Sprint("status: "), statusColor(rec.Status))
				if rec.Channel != "" {
					fmt.Fprintf(w, "  %s %s\n", label.Sprint("channel:"), rec.Channel)
				}
				if rec.DispatchID != "" {
					fmt.Fprintf(w, "  %s %s\n", label.Sprint("dispatch:"), rec.DispatchID)
				}
				if rec.Error != "" {
					fmt.Fprintf(w, "  %s %s\n", label.Sprint("error:  "), rec.Error)
				}
				fmt.Fprintf(w, "  %s %s\n", label.Sprint("created:"), rec.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
				fmt.Fprintf(w, "  %s %s\n", label.Sprint("expires:"), rec.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC"))

				if b.Redis != nil {
					ttl, err := b.Redis.TTL(ctx, rec.MessageID)
					if err == nil && ttl > 0 {
						fmt.Fprintf(w, "  %s %s\n", label.Sprint("ttl:    "), ttl.Round(time.Second))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func statusColor(s routing.ClaimStatus) string {
	switch s {
	case routing.ClaimDispatched:
		return color.New(color.FgHiGreen).Sprint(s)
	case routing.ClaimInProgress:
		return color.New(color.FgHiCyan).Sprint(s)
	case routing.ClaimFailed:
		return color.New(color.FgRed).Sprint(s)
	case routing.ClaimRejected:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return string(s)
	}
}
