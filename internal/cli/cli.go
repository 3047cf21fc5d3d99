// Package cli implements pagerctl, the provisioning tool for contact
// preferences and idempotency records.
package cli

import (
	"context"
	"flag"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/pager/internal/backend"
)

// Opener connects to the configured backends. It runs after flags are parsed.
type Opener func(ctx context.Context) (*backend.Backend, error)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	label    = color.New(color.FgHiBlack)
)

// RootCmd returns the pagerctl command tree. Backend flags come from fs so the
// CLI and the server share flag names and env vars.
func RootCmd(fs *flag.FlagSet, open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "pagerctl",
		Short: "Provision contact preferences and inspect idempotency records",
		Long: `pagerctl reads and writes the same backends as the pager server.

Select backends with --store and --guard, or the PAGER_STORE and PAGER_GUARD
environment variables.`,
		SilenceUsage: true,
	}
	if fs != nil {
		root.PersistentFlags().AddGoFlagSet(fs)
	}

	root.AddCommand(prefCmd(open))
	root.AddCommand(claimCmd(open))
	return root
}

// withBackend opens the backends for the duration of fn.
func withBackend(cmd *cobra.Command, open Opener, fn func(ctx context.Context, b *backend.Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}
