package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying defaults, the config file,
environment variables and flags. The output can be used as a config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		return cfg.Encode(cmd.OutOrStdout(), format)
	},
}

func init() {
	configCmd.Flags().String("format", "toml", "Output format (toml or yaml)")
	rootCmd.AddCommand(configCmd)
}
