package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stackctl/internal/app"
	"stackctl/pkg/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Run the application stack locally and expose it through a tunnel",
	Long: `stackctl brings up the local deployment of the application stack:
database, cache and web application containers, one-time application setup,
and a tunnel that exposes the application on its public hostnames.

Background processes survive the command that started them; use
'stackctl status' to inspect and 'stackctl stop' to tear everything down.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. failed readiness, missing prerequisites)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stackctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default: layered defaults, ~/.config/stackctl and .stackctl)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	for _, name := range []string{"config", "debug"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			logging.Error("CLI", err, "Failed to bind flag %s", name)
		}
	}
	viper.SetEnvPrefix("STACKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("log-level", "warn")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// newApplication bootstraps the application from the global flags and
// their STACKCTL_* environment counterparts.
func newApplication() (*app.Application, error) {
	cfg := app.NewConfig(viper.GetString("config"), viper.GetBool("debug"))
	cfg.LogLevel = viper.GetString("log-level")
	return app.NewApplication(cfg)
}
