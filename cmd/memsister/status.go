package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memsister/memsister/internal/daemon"
	"github.com/memsister/memsister/internal/logging"
	"github.com/memsister/memsister/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which files would be published",
	Long: `Classify every .base file in the directory against the fingerprints
stored in the cache. Nothing is written or renamed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		d, err := daemon.New(cfg, daemon.Options{Logger: logging.Discard()})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ui.Configure(out)

		files, err := d.Describe(cmd.Context())
		if err != nil && len(files) == 0 {
			fmt.Fprintf(out, "%s %s: %v\n", ui.RenderFail("✗"), cfg.CacheAddress, err)
			return err
		}
		fmt.Fprintf(out, "%s %s\n", ui.RenderPass("●"), ui.RenderAccent(cfg.CacheAddress))

		if len(files) == 0 {
			fmt.Fprintf(out, "No .base files in %s\n", cfg.WatchDirectory)
		}
		for _, f := range files {
			mark := ui.RenderMuted("=")
			if f.Err != nil {
				mark = ui.RenderFail("✗")
			} else if f.Classification.NeedsPublish() {
				mark = ui.RenderWarn("↑")
			}
			line := fmt.Sprintf("%s %-30s %s", mark, f.Name, f.Classification)
			if f.Err != nil {
				line += ": " + f.Err.Error()
			}
			fmt.Fprintln(out, line)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
