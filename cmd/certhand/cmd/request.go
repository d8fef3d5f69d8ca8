package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certhand/ca"
)

var (
	reqEmail    string
	reqKeyFile  string
	reqSafeName string
	reqOnToken  bool
	reqSubject  ca.Subject
)

var requestCmd = &cobra.Command{
	Use:   "request <client|server> <name>",
	Short: "Create a certificate request",
	Long: `Create a certificate request against the authority. The name is the
identity the certificate is for: a hostname for server requests, an
identity string (usually an email address) for client requests. Client
requests require --email.`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parseRequestType(args[0])
		if err != nil {
			return err
		}

		a, err := openAuthority()
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []ca.RequestOption{ca.WithSubject(reqSubject)}
		if reqEmail != "" {
			opts = append(opts, ca.WithEmail(reqEmail))
		}
		if reqKeyFile != "" {
			opts = append(opts, ca.WithKeyFile(reqKeyFile))
		}
		if reqSafeName != "" {
			opts = append(opts, ca.WithSafeName(reqSafeName))
		}
		if reqOnToken {
			opts = append(opts, ca.WithTokenKey())
		}

		req, err := a.NewRequest(typ, args[1], opts...)
		if err != nil {
			return err
		}
		if err := a.Prepare(req); err != nil {
			return err
		}

		fmt.Printf("Request %s/%s is pending (id %s)\n", req.Type, req.SafeName, req.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&reqEmail, "email", "", "Email address (required for client requests)")
	requestCmd.Flags().StringVar(&reqKeyFile, "key", "", "Use an existing PEM private key instead of generating one")
	requestCmd.Flags().StringVar(&reqSafeName, "safe-name", "", "Force the stored safe name")
	requestCmd.Flags().BoolVar(&reqOnToken, "token-key", false, "Generate the key on the authority's hardware token")
	requestCmd.Flags().StringVar(&reqSubject.Country, "country", "", "Subject country override")
	requestCmd.Flags().StringVar(&reqSubject.Province, "state", "", "Subject state/province override")
	requestCmd.Flags().StringVar(&reqSubject.Locality, "locality", "", "Subject locality override")
	requestCmd.Flags().StringVar(&reqSubject.Organization, "org", "", "Subject organization override")
	requestCmd.Flags().StringVar(&reqSubject.OrganizationalUnit, "org-unit", "", "Subject organizational unit override")
}
