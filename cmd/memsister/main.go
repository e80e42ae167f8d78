package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memsister/memsister/internal/config"
)

var (
	v          = viper.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "memsister",
	Short: "Sync .base files from a directory into memcached",
	Long: `memsister watches a directory for files ending in .base. Each line of
such a file is a key|value record; the records are written to memcached as
<file>_<key> = <value>. Published files are renamed to <file>.base_old.

The daemon keeps an MD5 fingerprint of each file in the cache under
<file>_checksum and only republishes files whose content changed. When the
cache is unreachable it retries every interval.

Configuration is read from flags, then _MEMSISTER_* environment variables,
then the optional --config file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (toml or yaml)")
	if err := config.RegisterFlags(rootCmd.PersistentFlags(), v); err != nil {
		panic(err)
	}
}

// loadConfig resolves the configuration for the running command.
func loadConfig() (config.Config, error) {
	return config.Load(v, configFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
