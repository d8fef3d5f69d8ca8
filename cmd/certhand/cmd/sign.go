package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var signCmd = &cobra.Command{
	Use:   "sign <client|server> <name>",
	Short: "Sign a pending certificate request",
	Args:  exactArgs(2),
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

		req, err := a.LoadRequest(typ, args[1])
		if err != nil {
			return err
		}
		cert, err := a.Sign(cmd.Context(), req)
		if err != nil {
			return err
		}

		fmt.Printf("Signed %s/%s: serial %s, expires %s\n",
			req.Type, req.SafeName, cert.SerialNumber, cert.NotAfter.Format("2006-01-02"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
}
