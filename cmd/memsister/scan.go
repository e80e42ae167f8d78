package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memsister/memsister/internal/daemon"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan and exit",
	Long: `Connect to the cache, process every .base file in the directory once,
and exit. Exits non-zero when the cache cannot be reached or any file
failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, sink, err := logging.Open(logging.FileOptions{Path: cfg.LogFile, Backups: cfg.LogBackups})
		if err != nil {
			return fmt.Errorf("failed to open log: %w", err)
		}
		defer sink.Close()

		d, err := daemon.New(cfg, daemon.Options{Logger: logger})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ui.Configure(out)

		res, err := d.Scan(cmd.Context())
		if errors.Is(err, daemon.ErrNotConnected) {
			fmt.Fprintf(out, "%s %s\n", ui.RenderFail("✗"), err)
			return err
		}

		for _, f := range res.Files {
			fmt.Fprintln(out, formatFile(f))
		}
		fmt.Fprintf(out, "%s %d candidates: %d published, %d unchanged, %d failed (%s)\n",
			ui.RenderAccent("scan"), res.Candidates, res.Published, res.Unchanged,
			res.Failed+res.RenameFailed, res.Duration.Round(time.Millisecond))

		if err != nil {
			return err
		}
		if n := res.Failed + res.RenameFailed; n > 0 {
			return fmt.Errorf("%d file(s) failed", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func formatFile(f daemon.FileResult) string {
	var mark string
	switch f.Outcome {
	case daemon.OutcomePublished:
		mark = ui.RenderPass("✓")
	case daemon.OutcomeUnchanged:
		mark = ui.RenderMuted("=")
	case daemon.OutcomeRenameFailed:
		mark = ui.RenderWarn("!")
	default:
		mark = ui.RenderFail("✗")
	}

	line := fmt.Sprintf("%s %-30s %-9s %s", mark, f.Name, f.Classification, f.Outcome)
	if f.Written > 0 || f.Skipped > 0 {
		line += fmt.Sprintf(" (%d written, %d skipped)", f.Written, f.Skipped)
	}
	if f.Err != nil {
		line += ": " + f.Err.Error()
	}
	return line
}
