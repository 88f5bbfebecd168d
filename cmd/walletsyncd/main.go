package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configFile string

	app = &cobra.Command{
		Use:           "walletsyncd",
		Short:         "address synchronization engine daemon",
		Long:          "walletsyncd wires the gap-limit address-discovery engine to a Blockbook-style indexer and a local badger store, and runs it until terminated",
		Version:       formatVersion(),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	app.Flags().StringVarP(&configFile, "config", "c", "", "path to a .env-style config file to load before environment variables")
}

func main() {
	if err := app.Execute(); err != nil {
		log.Fatal(err)
	}
}

func formatVersion() string {
	return "Version: " + version + "\nCommit: " + commit + "\nDate: " + date
}
