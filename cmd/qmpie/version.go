package main

import (
	"fmt"

	"qmpie/internal/defaults"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "qmpie %s (prompt %s)\n", version, defaults.PromptVersion)
			return err
		},
	}
}
