package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd carries only the --config persistent flag; everything else lives
// on the crawl/review subcommands per spec §6.7.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seosum",
		Short: "Crawl a site and audit its on-page SEO",
		Long: `seosum crawls a single website from a seed URL, optionally through a
live browser engine, analyzes each page for SEO-relevant signals, and
streams the results to a CSV or JSON dataset on disk.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML) loaded into viper; its values do not override subcommand flags")
	cobra.OnInitialize(initConfig)

	cmd.AddCommand(crawlCmd())
	cmd.AddCommand(reviewCmd())
	return cmd
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "%s reading config %s: %v\n", clr("yellow", "warning:"), cfgFile, err)
		}
	}
	viper.SetEnvPrefix("SEOSUM")
	viper.AutomaticEnv()
}
