// Package cmd implements the colfetch command-line interface: one-shot
// and batch fetches against the configured source catalog.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datacol/colfetch/cmd/batch"
	"github.com/datacol/colfetch/cmd/common"
	"github.com/datacol/colfetch/cmd/fetch"
	cmdsources "github.com/datacol/colfetch/cmd/sources"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "colfetch",
	Short: "Resilient fetcher for Colombian open data and news sources",
	Long: `colfetch fetches data from government open-data APIs and news
sources through a shared fabric of per-source rate limiting, response
caching, and retry with backoff.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are visible to flag
	// defaults and the config loader alike.
	_ = godotenv.Load()

	if err := initViper(); err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./config.yaml)")
	flags.String("sources", "", "source catalog file (default from config)")
	flags.Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("colfetch version %s\n", Version)
		},
	})

	rootCmd.AddCommand(fetch.Command())
	rootCmd.AddCommand(batch.Command())
	rootCmd.AddCommand(cmdsources.Command())
}

// initViper binds the persistent flags and their environment fallbacks.
// The config file itself is parsed by the config package; viper only
// resolves where to find it and whether debug mode is on.
func initViper() error {
	_ = rootCmd.ParseFlags(os.Args[1:])

	viper.SetEnvPrefix("COLFETCH")
	viper.AutomaticEnv()

	for _, name := range []string{"config", "sources", "debug"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("bind %s flag: %w", name, err)
		}
	}

	common.SetOverrides(common.Overrides{
		ConfigPath:  viper.GetString("config"),
		SourcesPath: viper.GetString("sources"),
		Debug:       viper.GetBool("debug"),
	})
	return nil
}
