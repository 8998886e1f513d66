// Command swarmd runs the ticket workflow: single cycles, bounded runs, or a
// daemon with a cron schedule and the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/config"
	"github.com/h1v3-io/swarm/internal/logbuf"
	"github.com/h1v3-io/swarm/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	logs   = logbuf.New(2000)
)

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Multi-role ticket workflow engine",
	Long: `swarmd moves tickets through a team of roles (scrum master, product owner,
architect, backend and frontend developers) until they are done or blocked.

Configuration is read from swarm.yaml (or --config), then .env and SWARM_*
environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(logging.Options{Level: level, Dev: cfg.Log.Dev || verbose, Buffer: logs})
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default swarm.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging with console output")

	rootCmd.AddCommand(runCmd, cycleCmd, processCmd, daemonCmd, ticketCmd, mcpCmd, activityCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
