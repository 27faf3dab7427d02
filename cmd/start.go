package cmd

import (
	"github.com/spf13/cobra"

	"stackctl/internal/app"
)

func newStartCmd() *cobra.Command {
	var opts app.StartOptions

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the stack, run setup if needed and open the tunnel",
		Long: `Starts the services in dependency order, waits for each to become ready,
runs the one-time application setup when the application is not initialized
yet, launches the tunnel and the background log follower, and then streams
the combined logs.

Ctrl+C while logs are streaming only stops the log view; the deployment keeps
running. Ctrl+C or a failure during startup rolls everything back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.Start(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.ForceInit, "force-init", false, "Run the setup steps even if the application is initialized")
	cmd.Flags().BoolVar(&opts.NoLogs, "no-logs", false, "Return once the deployment is up instead of streaming logs")
	cmd.Flags().BoolVar(&opts.CopyURL, "copy-url", false, "Copy the first public URL to the clipboard")
	return cmd
}
