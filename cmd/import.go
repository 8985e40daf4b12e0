package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/graphsite/internal/store"
)

var (
	importStore   string
	importBatch   int
	importRebuild bool
)

var importCmd = &cobra.Command{
	Use:   "import [file.nq ...]",
	Short: "Load N-Quads into a SQLite quad store",
	Long:  "Load N-Quads files (or standard input when no file or \"-\" is given) into the SQLite store, updating the graph change index.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := store.OpenSQLite(importStore)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if importRebuild {
			if err := st.RebuildIndex(ctx); err != nil {
				return err
			}
			logger.Info("graph index rebuilt", "store", importStore)
		}

		if len(args) == 0 && !importRebuild {
			args = []string{"-"}
		}
		start := time.Now()
		total := 0
		for _, name := range args {
			n, err := importOne(ctx, st, name, cmd.InOrStdin())
			total += n
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.Info("imported", "source", name, "quads", n)
		}
		logger.Info("import finished", "store", importStore, "quads", total, "duration", time.Since(start))
		return nil
	},
}

func importOne(ctx context.Context, st *store.SQLiteStore, name string, stdin io.Reader) (int, error) {
	if name == "-" {
		return store.ImportNQuads(ctx, st, stdin, importBatch)
	}
	f, err := os.Open(name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return store.ImportNQuads(ctx, st, f, importBatch)
}

func init() {
	importCmd.Flags().StringVar(&importStore, "store", "graphsite.db", "SQLite store to load into")
	importCmd.Flags().IntVar(&importBatch, "batch", store.DefaultImportBatch, "Quads per transaction")
	importCmd.Flags().BoolVar(&importRebuild, "rebuild-index", false, "Recompute the graph change index before importing")
	rootCmd.AddCommand(importCmd)
}
