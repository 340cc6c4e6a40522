// Package encodepassword provides the "encode-password" command: turn
// a plaintext password into the base64-obfuscated form config.yaml
// expects, so it never has to be stored in the clear.
package encodepassword

import (
	"fmt"

	"github.com/oplancelot/rumba/cmd"
	"github.com/oplancelot/rumba/internal/config"
	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode-password [password]",
	Short: "Encode a password for storage in a rumba config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encoded := config.EncodePassword(args[0])
		_, err := fmt.Fprintln(cmd.OutOrStdout(), encoded)
		return err
	},
}

func init() {
	cmd.Register(encodeCmd)
}
