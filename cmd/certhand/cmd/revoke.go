package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <serial>",
	Short: "Revoke an issued certificate by serial number",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serial, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: serial must be an integer, got %q", errUsage, args[0])
		}

		a, err := openAuthority()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Revoke(serial); err != nil {
			return err
		}
		fmt.Printf("Revoked serial %d; run build-crl to publish\n", serial)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)
}
