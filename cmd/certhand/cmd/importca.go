package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certhand/ca"
)

var (
	importDomain   string
	importCertPath string
	importKeyPath  string
)

var importCACmd = &cobra.Command{
	Use:   "import-ca <label>",
	Short: "Create an authority from an externally issued CA certificate",
	Long: `Create an authority directory from a CA certificate signed elsewhere
(typically an intermediate issued by a parent authority) and its private
key. Subject template fields are read back from the certificate.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if importCertPath == "" || importKeyPath == "" {
			return fmt.Errorf("%w: --cert and --key are required", errUsage)
		}
		certPEM, err := os.ReadFile(importCertPath)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}
		keyPEM, err := os.ReadFile(importKeyPath)
		if err != nil {
			return fmt.Errorf("reading key: %w", err)
		}

		cfg := ca.Config{Label: args[0], Domain: importDomain}
		a, err := ca.Import(caDir, cfg, certPEM, string(keyPEM), nil)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Imported authority %q in %s\n", a.Config().Label, a.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCACmd)
	importCACmd.Flags().StringVar(&importDomain, "domain", "", "Domain for CRL distribution point URLs (required)")
	importCACmd.Flags().StringVar(&importCertPath, "cert", "", "Path to the CA certificate PEM")
	importCACmd.Flags().StringVar(&importKeyPath, "key", "", "Path to the CA private key PEM")
}
