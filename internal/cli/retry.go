package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/intake/internal/service"
	"github.com/spf13/cobra"
)

var (
	retryAll     bool
	retryProcess bool
)

var retryCmd = &cobra.Command{
	Use:   "retry [name...]",
	Short: "Move failed items back to the inbound folder",
	Long: `Move items from the failed folder back to the inbound folder so they are
ingested again. A running daemon picks them up on its own; with --process
they are processed right away and the command waits for the result.

Examples:
  intake retry scan.dcm study.7z
  intake retry --all
  intake retry --all --process`,
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().BoolVarP(&retryAll, "all", "a", false, "retry every item in the failed folder")
	retryCmd.Flags().BoolVarP(&retryProcess, "process", "p", false, "process the restored items immediately")
}

func runRetry(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !retryAll {
		return errors.New("name at least one item or use --all")
	}
	if len(args) > 0 && retryAll {
		return errors.New("--all cannot be combined with item names")
	}
	if err := requireConfig(); err != nil {
		return err
	}

	d := service.NewDaemon(cfg, logger, service.DaemonOptions{})
	restored, retryErr := d.Retry(args, retryAll)

	out := cmd.OutOrStdout()
	if len(restored) == 0 && retryErr == nil {
		fmt.Fprintln(out, "Nothing to retry.")
	}
	for _, p := range restored {
		fmt.Fprintf(out, "Restored %s\n", p)
	}
	if !retryProcess || len(restored) == 0 {
		return retryErr
	}

	ctx, cancel := signalContext()
	defer cancel()
	return errors.Join(retryErr, d.ProcessOnce(ctx, restored))
}
