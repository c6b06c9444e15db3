package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ulogger-ai/ulogger-upload/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ulogger-upload %s\n", version.String())
	},
}
