// Pagerctl provisions contact preferences and inspects idempotency records
// against the same backends the pager server uses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/pager/internal/awsx"
	"github.com/linnemanlabs/pager/internal/backend"
	vc "github.com/linnemanlabs/pager/internal/cfg"
	"github.com/linnemanlabs/pager/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		storeCfg vc.Config
		awsCfg   awsx.Config
	)
	fs := flag.NewFlagSet("pagerctl", flag.ContinueOnError)
	storeCfg.RegisterStoreFlags(fs)
	awsCfg.RegisterFlags(fs)

	// env first, command-line flags parsed by cobra override it
	cfg.FillFromEnv(fs, "PAGER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	open := func(ctx context.Context) (*backend.Backend, error) {
		if err := errors.Join(storeCfg.ValidateStore(), awsCfg.Validate()); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return backend.Open(ctx, &storeCfg, awsCfg, log.Nop())
	}

	if err := cli.RootCmd(fs, open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
