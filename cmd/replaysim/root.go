package main

import (
	"github.com/spf13/cobra"
)

var rootExample = `
  Run the default scenario (native-password auth, one PREPARE, a renew):
	replaysim run

  Run the legacy old_password handshake instead:
	replaysim run --legacy-auth

  Load module configuration from a file instead of --user/--test-user/--test-password:
	replaysim run --config ./module.yaml --verbose
`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "replaysim",
		Short:   "Simulate the MySQL replay module against a synthetic capture",
		Example: rootExample,
	}
	root.AddCommand(newRunCmd())
	return root
}
