package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/graphsite/internal/preview"
)

var (
	serveAddr  string
	serveMount string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export the published output directory read-only over NFS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, err := loadSite(nil)
		if err != nil {
			return err
		}
		if _, err := os.Stat(site.Out); err != nil {
			return fmt.Errorf("output dir: %w (run publish first)", err)
		}
		siteJSON, err := json.MarshalIndent(site, "", "  ")
		if err != nil {
			return err
		}

		srv, err := preview.NewServer(preview.NewReadOnlyFS(osfs.New(site.Out), siteJSON), serveAddr, logger)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()

		if serveMount != "" {
			if err := preview.Mount(srv.Port(), serveMount); err != nil {
				return err
			}
			logger.Info("mounted", "mountpoint", serveMount)
			defer func() {
				if err := preview.Unmount(serveMount); err != nil {
					logger.Warn("unmount failed", "mountpoint", serveMount, "error", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-srv.Done():
			return srv.Err()
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:0", "Listen address for the NFS server")
	serveCmd.Flags().StringVar(&serveMount, "mount", "", "Also mount the export at this directory (needs sudo)")
	rootCmd.AddCommand(serveCmd)
}
