package main

import (
	"github.com/spf13/cobra"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/cli"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their capabilities",
	Long: `List the providers that are enabled and have credentials, with the
extraction modes each supports, and the provider selection the pipeline uses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg := e.config.Get()
		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig(), e.logger)

		type listing struct {
			Selection providers.Selection      `json:"selection" yaml:"selection"`
			Resolved  string                   `json:"resolved,omitempty" yaml:"resolved,omitempty"`
			Error     string                   `json:"error,omitempty" yaml:"error,omitempty"`
			Providers []providers.Capabilities `json:"providers" yaml:"providers"`
		}
		out := listing{Selection: cfg.Selection(), Providers: registry.Describe()}
		if s, err := registry.Resolve(cfg.Selection()); err != nil {
			out.Error = err.Error()
		} else {
			out.Resolved = s.String()
		}
		return cli.Output(out)
	},
}
