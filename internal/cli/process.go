package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/intake/internal/config"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var processPlain bool

var processCmd = &cobra.Command{
	Use:   "process [path...]",
	Short: "Process the inbound backlog once and exit",
	Long: `Process items once without watching. With no arguments every item currently
in the inbound folder is processed; otherwise only the given files or
directories (which must be inside the inbound folder).

A progress bar is shown when stdout is a terminal.

Examples:
  intake process
  intake process /data/in/study-42
  intake process --plain > report.txt`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processPlain, "plain", false, "no interactive progress, print a summary only")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if err := requireConfig(); err != nil {
		return err
	}

	if !processPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		return processWithProgress(args)
	}
	return processPlainOutput(cmd.OutOrStdout(), args)
}

func processPlainOutput(out io.Writer, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var (
		mu        sync.Mutex
		processed int
		failures  []failure
	)
	start := time.Now()
	d := service.NewDaemon(cfg, logger, service.DaemonOptions{
		OnResult: func(item models.Item) {
			mu.Lock()
			defer mu.Unlock()
			if item.Succeeded() {
				processed++
				return
			}
			failures = append(failures, failure{name: item.Name(), err: item.Err})
		},
	})

	err := d.ProcessOnce(ctx, args)

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, summary(defaultTheme, processed, len(failures), failures, time.Since(start)))
	return err
}

func processWithProgress(args []string) error {
	// The progress view owns the terminal; logs still go to the log file.
	uiLogger, closeUILog := config.SetupLoggerTo(io.Discard, cfg.LogFile, cfg.LogLevel)
	defer closeUILog()

	ctx, cancel := signalContext()
	defer cancel()

	p := tea.NewProgram(newProgressModel())
	d := service.NewDaemon(cfg, uiLogger, service.DaemonOptions{
		OnScheduled: func(n int) { p.Send(scheduledMsg(n)) },
		OnResult:    func(item models.Item) { p.Send(resultMsg(item)) },
	})

	result := make(chan error, 1)
	go func() {
		err := d.ProcessOnce(ctx, args)
		result <- err
		p.Send(doneMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		cancel()
		<-result
		return fmt.Errorf("progress UI error: %w", err)
	}

	// Ctrl+C in the UI: stop scheduling and wait for the items in flight.
	if m, ok := finalModel.(progressModel); ok && m.quitting {
		cancel()
	}
	return <-result
}
