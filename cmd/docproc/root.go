package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/cli"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/home"
	"github.com/sdasgarali/ai-doc-processor-latest/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	logFormat    string
)

var rootCmd = &cobra.Command{
	Use:   "docproc",
	Short: "Extract structured records from EOB, facesheet and invoice PDFs",
	Long: `docproc extracts structured records from scanned healthcare and billing
documents using vision-capable LLM providers.

Each document is split into page-range chunks, dispatched in parallel or as a
provider batch job, and the per-chunk records are consolidated into one
deduplicated, page-ordered result with a cost breakdown.

Supported categories:
  - eob        explanation-of-benefits / remittance claims
  - facesheet  patient demographics and insurance
  - invoice    invoice line items`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docproc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docproc home directory (default: ~/.docproc)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().StringVar(
		&logFormat, "log-format", "text", "log format: text or json",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return cli.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(versionCmd)
}

// env is the shared setup of commands that need configuration.
type env struct {
	home   *home.Dir
	config *config.Manager
	logger *slog.Logger
}

// loadEnv loads .env files, the logger and configuration, in that order.
func loadEnv() (*env, error) {
	logger, err := cli.NewLogger(os.Stderr, logLevel, logFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	// Existing environment wins over both files.
	for _, f := range []string{".env", h.EnvPath()} {
		if _, statErr := os.Stat(f); statErr != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
		logger.Debug("loaded env file", "path", f)
	}

	file := cfgFile
	if file == "" && homeDir != "" && h.ConfigExists() {
		file = h.ConfigPath()
	}
	mgr, err := config.NewManager(file)
	if err != nil {
		return nil, err
	}
	mgr.SetLogger(logger)
	if used := mgr.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config", "path", used)
	}

	return &env{home: h, config: mgr, logger: logger}, nil
}
