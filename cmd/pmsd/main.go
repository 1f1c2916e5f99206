package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DanielHyeon/pms-ic-sub000/internal/config"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "pmsd",
	Short: "pmsd - project management assistant server",
	Long: `pmsd serves the assistant core for the project management system.

It runs two tracks over one HTTP surface: a text-to-query pipeline that
turns natural-language questions into validated, project-scoped read
queries, and a workflow engine that orchestrates retrieval, reasoning and
generation skills over the document graph.

Run "pmsd serve" to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Init(cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		loadedConfig = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// loadedConfig is set by the root PersistentPreRunE before any subcommand
// runs.
var loadedConfig *config.Config

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", loadedConfig.Name, loadedConfig.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "path to the yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
