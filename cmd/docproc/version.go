package main

import (
	"github.com/spf13/cobra"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/cli"
	"github.com/sdasgarali/ai-doc-processor-latest/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.Output(version.Get())
	},
}
