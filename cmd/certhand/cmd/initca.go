package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certhand/ca"
)

var (
	initDomain       string
	initSubject      ca.Subject
	initValidityDays int
	initPKCS11Module string
	initPKCS11Token  string
	initPKCS11PINEnv string
)

var initCACmd = &cobra.Command{
	Use:   "init-ca <label>",
	Short: "Initialise a new certificate authority directory",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := ca.Config{
			Label:        args[0],
			Domain:       initDomain,
			Subject:      initSubject,
			ValidityDays: initValidityDays,
		}
		if initPKCS11Module != "" {
			cfg.Key = ca.KeyConfig{
				Source:     ca.KeySourcePKCS11,
				Module:     initPKCS11Module,
				TokenLabel: initPKCS11Token,
				PINEnv:     initPKCS11PINEnv,
			}
		}

		a, err := ca.Init(caDir, cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Initialised authority %q in %s\n", a.Config().Label, a.Dir())
		fmt.Printf("CRL distribution point: %s\n", a.CRLDistributionPoint())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCACmd)
	initCACmd.Flags().StringVar(&initDomain, "domain", "", "Domain for CRL distribution point URLs (required)")
	initCACmd.Flags().StringVar(&initSubject.Country, "country", "", "Default subject country")
	initCACmd.Flags().StringVar(&initSubject.Province, "state", "", "Default subject state/province")
	initCACmd.Flags().StringVar(&initSubject.Locality, "locality", "", "Default subject locality")
	initCACmd.Flags().StringVar(&initSubject.Organization, "org", "", "Default subject organization")
	initCACmd.Flags().StringVar(&initSubject.OrganizationalUnit, "org-unit", "", "Default subject organizational unit")
	initCACmd.Flags().IntVar(&initValidityDays, "validity-days", 0, "Validity period for issued certificates (default 365)")
	initCACmd.Flags().StringVar(&initPKCS11Module, "pkcs11-module", "", "PKCS#11 module path (selects hardware-token keys)")
	initCACmd.Flags().StringVar(&initPKCS11Token, "pkcs11-token-label", "", "PKCS#11 token label")
	initCACmd.Flags().StringVar(&initPKCS11PINEnv, "pkcs11-pin-env", "", "Environment variable holding the token PIN")
}
