package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/intake/internal/service"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the inbound folder and ingest everything that arrives",
	Long: `Run the intake daemon. Items left in the inbound folder by a previous run are
picked up first, then new arrivals are processed as they settle.

The daemon stops on SIGINT/SIGTERM after the items in flight have finished.
It exits non-zero if the inbound folder disappears or an item can be moved
to neither the processed nor the failed folder.

Examples:
  intake run
  intake run --config /etc/intake.yaml
  intake run --inbound /data/in --processed /data/done --failed /data/failed \
    --endpoint http://orthanc:8042/instances -j 4`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := requireConfig(); err != nil {
		return err
	}

	logger.Info("intake starting", "version", Version)

	ctx, cancel := signalContext()
	defer cancel()

	d := service.NewDaemon(cfg, logger, service.DaemonOptions{})
	if err := d.Run(ctx); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
