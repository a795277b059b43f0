package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/bovicare-rag/internal/bootstrap"
	"github.com/kirillkom/bovicare-rag/internal/config"
	"github.com/kirillkom/bovicare-rag/internal/infrastructure/corpus"
	"github.com/kirillkom/bovicare-rag/internal/observability/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Load the veterinary disease corpus into the passage store",
		SilenceUsage: true,
	}
	root.AddCommand(newLoadCmd(), newValidateCmd())
	return root
}

func newLoadCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "load <corpus.yaml|corpus.json|dir>",
		Short: "Chunk, embed and store a corpus, then notify running APIs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := corpus.LoadPath(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d documents parsed, nothing written\n", len(docs))
				return nil
			}

			cfg := config.Load()
			slog.SetDefault(logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "ingest", cfg.LogLevel))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer app.Close()

			report, err := app.IngestUC.Ingest(ctx, docs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate only")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <corpus.yaml|corpus.json|dir>",
		Short: "Check that a corpus file parses and every document is complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := corpus.LoadPath(args[0])
			if err != nil {
				return err
			}
			sections := 0
			for _, doc := range docs {
				sections += len(doc.Sections)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d documents, %d sections\n", len(docs), sections)
			return nil
		},
	}
}
