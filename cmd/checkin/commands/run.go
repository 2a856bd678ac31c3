package commands

import (
	"fmt"
	"os"

	"forum-checkin/lib/serviceutil"
	"forum-checkin/lib/telemetry"
	"forum-checkin/services/checkin"

	"github.com/spf13/cobra"
)

var platform string

func init() {
	runCmd.Flags().StringVar(&platform, "platform", "", "Only run when this platform is the configured one.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Checks in every configured account and prints a summary table.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := checkin.LoadConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to load config", err)
		}
		if platform != "" && platform != config.Site.Name {
			serviceutil.Fatal("unknown platform",
				fmt.Errorf("%q is not configured, only %q", platform, config.Site.Name))
		}

		runner, err := checkin.NewRunner(config)
		if err != nil {
			serviceutil.Fatal("failed to initialize runner", err)
		}
		defer runner.Close()

		telemetry.InstrumentPerfStats(cmd.Context())

		summary, err := runner.Run(cmd.Context())
		if err != nil {
			serviceutil.Fatal("check-in run aborted", err)
		}

		summary.WriteTable(os.Stdout)
		os.Exit(summary.ExitCode())
	},
}
