package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/pager/internal/alert"
	"github.com/linnemanlabs/pager/internal/backend"
	"github.com/linnemanlabs/pager/internal/routing"
)

func prefCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pref",
		Short: "Manage contact preferences",
		Long:  "Create, inspect and delete the priority to channel mapping of a contact.",
	}

	cmd.AddCommand(prefPutCmd(open))
	cmd.AddCommand(prefGetCmd(open))
	cmd.AddCommand(prefDeleteCmd(open))

	return cmd
}

func prefPutCmd(open Opener) *cobra.Command {
	var (
		high, medium, low string
		call, sms, email  string
	)

	cmd := &cobra.Command{
		Use:   "put [contact-id]",
		Short: "Create or replace a contact preference",
		Long: `Write a contact preference. Every priority must map to a channel that
has a destination; the record is rejected otherwise.

Examples:
  pagerctl pref put C-1 --high call --medium sms --low email \
    --call +15555550100 --sms +15555550100 --email oncall@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &routing.Preference{
				ContactID:    args[0],
				Channels:     map[alert.Priority]alert.Channel{},
				Destinations: map[alert.Channel]string{},
			}
			for pr, raw := range map[alert.Priority]string{
				alert.PriorityHigh:   high,
				alert.PriorityMedium: medium,
				alert.PriorityLow:    low,
			} {
				ch, ok := alert.ParseChannel(raw)
				if !ok {
					return fmt.Errorf("invalid channel %q for %s priority\nValid channels: call, sms, email", raw, pr)
				}
				p.Channels[pr] = ch
			}
			for ch, addr := range map[alert.Channel]string{
				alert.ChannelCall:  call,
				alert.ChannelSMS:   sms,
				alert.ChannelEmail: email,
			} {
				if addr != "" {
					p.Destinations[ch] = addr
				}
			}
			if err := p.Validate(); err != nil {
				return err
			}

			return withBackend(cmd, open, func(ctx context.Context, b *backend.Backend) error {
				if err := b.Prefs.Put(ctx, p); err != nil {
					return fmt.Errorf("failed to store preference: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Stored preference for %s\n", okMark, p.ContactID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&high, "high", "", "channel for high priority alerts (call|sms|email)")
	cmd.Flags().StringVar(&medium, "medium", "", "channel for medium priority alerts (call|sms|email)")
	cmd.Flags().StringVar(&low, "low", "", "channel for low priority alerts (call|sms|email)")
	cmd.Flags().StringVar(&call, "call", "", "E.164 phone number for calls")
	cmd.Flags().StringVar(&sms, "sms", "", "SNS topic ARN or E.164 number for texts")
	cmd.Flags().StringVar(&email, "email", "", "SNS topic ARN or mailbox for email")

	return cmd
}

func prefGetCmd(open Opener) *cobra.Command {
	var (
		asJSON bool
		reveal bool
	)

	cmd := &cobra.Command{
		Use:   "get [contact-id]",
		Short: "Show a contact preference",
		Long:  "Show a contact preference. Destinations are masked unless --reveal is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend.Backend) error {
				p, ok, err := b.Prefs.Resolve(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to read preference: %w", err)
				}
				if !ok {
					return fmt.Errorf("no preference for contact %s", args[0])
				}
				if !reveal {
					p = maskPreference(p)
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(p)
				}
				printPreference(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print destinations in full")

	return cmd
}

func prefDeleteCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [contact-id]",
		Short: "Delete a contact preference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend.Backend) error {
				if err := b.Prefs.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete preference: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted preference for %s\n", okMark, args[0])
				return nil
			})
		},
	}
}

func maskPreference(p *routing.Preference) *routing.Preference {
	cp := p.Clone()
	for ch, addr := range cp.Destinations {
		cp.Destinations[ch] = routing.MaskAddress(addr)
	}
	return cp
}

func printPreference(w io.Writer, p *routing.Preference) {
	fmt.Fprintf(w, "Contact %s\n", p.ContactID)
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "%s %s\n", label.Sprint("updated"), p.UpdatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tCHANNEL\tDESTINATION")
	for _, pr := range alert.Priorities {
		ch := p.Channels[pr]
		dest := p.Destinations[ch]
		if dest == "" {
			dest = warnMark + " none"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", pr, ch, dest)
	}
	_ = tw.Flush()
}
