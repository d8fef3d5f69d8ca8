package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certhand/ca"
)

// errUsage marks command-line usage errors so Execute can map them to
// exit status 2. Operation failures exit with 1.
var errUsage = errors.New("usage error")

var caDir string

var rootCmd = &cobra.Command{
	Use:   "certhand",
	Short: "certhand manages file-backed certificate authorities",
	Long: `certhand manages certificate authorities stored as plain directories:
initialise an authority, create client and server certificate requests,
sign them, revoke certificates and publish CRLs. Keys live in software
or on a PKCS#11 hardware token.`,
	// A bare unknown subcommand is a usage error, not an operation
	// failure.
	Args: func(_ *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits: 0 on success, 1 on operation
// errors, 2 on usage errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "certhand:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error from the command tree to the process exit
// status: 0 success, 1 operation failure, 2 usage error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&caDir, "dir", "ca", "authority directory")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: expected %d argument(s), got %d", errUsage, n, len(args))
		}
		return nil
	}
}

func openAuthority() (*ca.Authority, error) {
	return ca.Open(caDir, nil)
}

func parseRequestType(s string) (ca.RequestType, error) {
	switch ca.RequestType(s) {
	case ca.TypeClient:
		return ca.TypeClient, nil
	case ca.TypeServer:
		return ca.TypeServer, nil
	default:
		return "", fmt.Errorf("%w: request type must be client or server, got %q", errUsage, s)
	}
}
