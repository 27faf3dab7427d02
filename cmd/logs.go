package cmd

import (
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var (
		tail    int
		capture string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Follow the logs of the running deployment",
		Long: `Re-attaches the combined log view of a running deployment. Ctrl+C stops
the view only; services and background processes keep running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			if capture != "" {
				return application.Capture(cmd.Context(), capture)
			}
			return application.Logs(cmd.Context(), tail)
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 50, "Number of recent lines to show per log")
	cmd.Flags().StringVar(&capture, "capture", "", "Write the service logs to this file (used by the log follower)")
	_ = cmd.Flags().MarkHidden("capture")
	return cmd
}
