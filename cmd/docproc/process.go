package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/cli"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/config"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/output"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/pipeline"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/providers"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
	"github.com/sdasgarali/ai-doc-processor-latest/internal/validate"
)

var (
	processCategory string
	processPrompt   string
	processNoBatch  bool
	processWorkers  int
	processFormats  []string
	processOutDir   string
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf> [file.pdf...]",
	Short: "Extract records from one or more PDF documents",
	Long: `Extract structured records from PDF documents.

Each file is chunked, extracted with the configured provider(s), consolidated
and priced. Result files are written to the output directory and a summary is
printed per document. Files are processed one after another; edits to the
config file are picked up between files.

Examples:
  docproc process remit.pdf --category eob
  docproc process intake.pdf --category facesheet --prompt "Skip the fax cover page."
  docproc process inv-*.pdf --category invoice --no-batch --workers 4 --format xlsx`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processCategory, "category", "c", string(types.CategoryEOB), "document category: eob, facesheet, invoice or id 1-3")
	processCmd.Flags().StringVar(&processPrompt, "prompt", "", "custom instructions prepended to every chunk prompt")
	processCmd.Flags().BoolVar(&processNoBatch, "no-batch", false, "dispatch chunks synchronously even when the provider supports batches")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "parallel chunk workers (default: pipeline.max_workers)")
	processCmd.Flags().StringSliceVar(&processFormats, "format", nil, "result formats: json, csv, xlsx (default: output.formats)")
	processCmd.Flags().StringVar(&processOutDir, "out-dir", "", "result directory (default: output.dir or {home}/results)")
}

// processSummary is printed for each document.
type processSummary struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	Document   string              `json:"document" yaml:"document"`
	Category   types.Category      `json:"category" yaml:"category"`
	Strategy   string              `json:"strategy" yaml:"strategy"`
	Records    int                 `json:"records" yaml:"records"`
	Chunks     string              `json:"chunks" yaml:"chunks"`
	Warnings   []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Cost       types.CostBreakdown `json:"cost" yaml:"cost"`
	Validation *validate.Summary   `json:"validation,omitempty" yaml:"validation,omitempty"`
	Files      []string            `json:"files" yaml:"files"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	category, err := types.ParseCategory(processCategory)
	if err != nil {
		return err
	}
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if err := e.home.EnsureExists(); err != nil {
		return err
	}

	registry := providers.NewRegistryFromConfig(e.config.Get().ToProviderRegistryConfig(), e.logger)
	e.config.OnChange(func(c *config.Config) {
		e.logger.Info("config changed, reloading providers")
		registry.Reload(c.ToProviderRegistryConfig())
	})
	if e.config.ConfigFileUsed() != "" {
		e.config.WatchConfig()
	}

	var failed int
	for _, file := range args {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary, err := processOne(cmd, e, registry, file, category)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", file, err)
			var cfgErr *types.ConfigurationError
			if errors.As(err, &cfgErr) {
				// Configuration problems fail every remaining file the same way.
				return err
			}
			continue
		}
		if err := cli.Output(summary); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

// processOne runs one file against a snapshot of the current configuration.
func processOne(cmd *cobra.Command, e *env, registry *providers.Registry, file string, category types.Category) (*processSummary, error) {
	cfg := *e.config.Get()
	if processNoBatch {
		cfg.Pipeline.UseBatch = false
	}
	if processWorkers > 0 {
		cfg.Pipeline.MaxWorkers = processWorkers
	}
	if cfg.Prompts.Dir == "" && e.home.PromptsExist() {
		cfg.Prompts.Dir = e.home.PromptsPath()
	}

	orch, err := pipeline.New(&cfg, registry, e.home.ScratchPath(), e.logger)
	if err != nil {
		return nil, err
	}

	out, err := orch.Process(cmd.Context(), file, category, processPrompt)
	if err != nil {
		return nil, err
	}

	formats := cfg.Output.Formats
	if len(processFormats) > 0 {
		formats = processFormats
	}
	dir := processOutDir
	if dir == "" {
		dir = cfg.Output.Dir
	}
	if dir == "" {
		dir = e.home.ResultsPath()
	}
	writer, err := output.NewWriter(dir, formats, e.logger)
	if err != nil {
		return nil, err
	}
	files, err := writer.Write(output.Document{
		RunID:      out.RunID,
		Source:     out.Document,
		Category:   out.Category,
		Columns:    cfg.Categories[string(category)].ColumnOrder,
		Result:     out.Result,
		Cost:       out.Cost,
		Validation: out.Validation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}

	return &processSummary{
		RunID:      out.RunID,
		Document:   out.Document,
		Category:   out.Category,
		Strategy:   out.Result.Strategy,
		Records:    len(out.Result.Records),
		Chunks:     fmt.Sprintf("%d/%d", out.Result.ChunksSucceeded, out.Result.ChunksTotal),
		Warnings:   out.Result.Warnings,
		Cost:       out.Cost,
		Validation: out.Validation,
		Files:      files,
	}, nil
}
