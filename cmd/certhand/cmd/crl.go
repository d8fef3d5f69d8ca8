package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var buildCRLCmd = &cobra.Command{
	Use:   "build-crl",
	Short: "Build and publish a new CRL",
	Long: `Sign a CRL covering the authority's currently revoked certificates.
Every build consumes a new CRL number, so only build when publishing.
The CRL is placed in the authority's crl directory and printed to
stdout.`,
	Args: exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAuthority()
		if err != nil {
			return err
		}
		defer a.Close()

		crlPEM, err := a.BuildCRL(cmd.Context())
		if err != nil {
			return err
		}
		os.Stdout.Write(crlPEM)
		fmt.Fprintf(os.Stderr, "CRL written to %s\n", a.CRLPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCRLCmd)
}
