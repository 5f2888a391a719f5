package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/collector"
	"github.com/fakeyudi/replay/internal/metrics"
	"github.com/fakeyudi/replay/internal/session"
)

var (
	collectAddr     string
	collectArchive  string
	collectBasePath string
)

const shutdownTimeout = 10 * time.Second

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the collection endpoint that stores uploaded segments",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		addr := c.CollectorAddr
		if cmd.Flags().Changed("addr") {
			addr = collectAddr
		}
		dsn, err := archiveDSN(cmd, collectArchive)
		if err != nil {
			return err
		}

		arch, err := archive.Open(dsn)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer arch.Close()

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		srv := collector.New(arch, collector.Options{
			BasePath: collectBasePath,
			Metrics:  metrics.Handler(),
			Logger:   log,
		})
		httpSrv := collector.NewHTTPServer(addr, srv.Handler())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			log.Info("collector listening", "addr", addr, "archive", arch.Dialect())
			errc <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("collector shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	},
}

// archiveDSN resolves the archive from the flag, the config, or a sqlite
// file in the data directory.
func archiveDSN(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("archive") && flagValue != "" {
		return flagValue, nil
	}
	if dsn := GetConfig().ArchiveDSN; dsn != "" {
		return dsn, nil
	}
	dir, err := session.DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dir, "replays.db"), nil
}

func init() {
	collectCmd.Flags().StringVar(&collectAddr, "addr", "", "listen address (overrides config)")
	collectCmd.Flags().StringVar(&collectArchive, "archive", "", "archive DSN: sqlite path or postgres:// URL")
	collectCmd.Flags().StringVar(&collectBasePath, "base-path", "", "prefix for every route")
	rootCmd.AddCommand(collectCmd)
}
