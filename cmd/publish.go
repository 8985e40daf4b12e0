package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/graphsite/api"
	"github.com/agentic-research/graphsite/internal/publish"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

var (
	publishStore       string
	publishInputs      []string
	publishGraphs      []string
	publishOut         string
	publishTemplates   string
	publishMetricsFile string
	publishStrict      bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write quad files, pages and aggregate outputs for the site",
	Long: `Publish regenerates the output tree from a quad store.

With --graph the run is change-scoped: only resources with at least one
fact in a listed graph are rewritten. Without it every resource is.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		site, err := loadSite(&api.Site{Out: publishOut, Templates: publishTemplates})
		if err != nil {
			return err
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := os.MkdirAll(site.Out, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		p, err := publish.New(site, st, osfs.New(site.Out), publish.WithLogger(logger))
		if err != nil {
			return err
		}

		rep, err := p.Run(ctx, rdf.NewGraphSet(publishGraphs...))
		if publishMetricsFile != "" {
			if merr := p.Metrics().WriteTextfile(publishMetricsFile); merr != nil {
				logger.Warn("metrics file not written", "path", publishMetricsFile, "error", merr)
			}
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d processed, %d data, %d pages, %d failed in %s\n",
			rep.RunID, rep.Writer.Processed, rep.Writer.DataWritten, rep.Writer.PagesWritten,
			len(rep.Writer.Failures), rep.Duration.Round(time.Millisecond))

		if publishStrict {
			if err := rep.Writer.Err(); err != nil {
				return err
			}
			return rep.DumpErr
		}
		return nil
	},
}

// openStore opens the SQLite store, or loads --input files into memory.
func openStore(cmd *cobra.Command) (store.Store, error) {
	if len(publishInputs) == 0 {
		if publishStore == "" {
			return nil, errors.New("one of --store or --input is required")
		}
		if _, err := os.Stat(publishStore); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return store.OpenSQLite(publishStore)
	}
	if cmd.Flags().Changed("store") {
		return nil, errors.New("--store and --input are mutually exclusive")
	}

	mem := store.NewMemoryStore()
	for _, name := range publishInputs {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		n, err := store.ImportNQuads(cmd.Context(), mem, f, store.DefaultImportBatch)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		logger.Debug("loaded input", "path", name, "quads", n)
	}
	return mem, nil
}

func init() {
	publishCmd.Flags().StringVar(&publishStore, "store", "graphsite.db", "SQLite store to publish from")
	publishCmd.Flags().StringSliceVarP(&publishInputs, "input", "i", nil, "N-Quads files to publish from an in-memory store instead of --store")
	publishCmd.Flags().StringArrayVarP(&publishGraphs, "graph", "g", nil, "Only rewrite resources with facts in this graph (repeatable)")
	publishCmd.Flags().StringVarP(&publishOut, "out", "o", "", "Output directory (overrides the config file)")
	publishCmd.Flags().StringVar(&publishTemplates, "templates", "", "Template directory (overrides the config file)")
	publishCmd.Flags().StringVar(&publishMetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	publishCmd.Flags().BoolVar(&publishStrict, "strict", false, "Exit non-zero when any resource or the aggregate dump failed")
	rootCmd.AddCommand(publishCmd)
}
