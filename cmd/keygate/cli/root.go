package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	dataDir    string
	appVersion string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygate",
		Short: "Credential gateway for third-party APIs",
		Long: `Keygate stores third-party API secrets encrypted at rest and hands callers
opaque access keys instead. Requests made with an access key are authenticated,
rate limited, recorded and forwarded to the upstream service with the real
secret attached.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keygate.yaml or ~/.keygate/keygate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.keygate)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAccountCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
