// =============================================================================
// PFI Indexer - Serve Command
// =============================================================================
//
// This file defines the 'serve' command, which exposes stored projects over a
// read-only JSON API.
//
// COMMAND USAGE:
//   pfi serve [--addr :8080] [--store sqlite] [--load register.csv]
//
// ENDPOINTS:
//   GET /api/v1/projects            : Paged project documents
//   GET /api/v1/projects/{hmt_id}   : One project document
//   GET /api/v1/{entity}            : Paged rows of a normalised table
//   GET /healthz                    : Liveness
//   GET /metrics                    : Prometheus metrics
//
// --load ingests an extract before the server starts, which is how the
// memory store gets its data.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/pfi-indexer/internal/api"
	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/ingest"
	"github.com/ginjaninja78/pfi-indexer/internal/metrics"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
)

var (
	serveAddr  string
	serveStore string
	serveLoad  []string
)

// serveCmd represents the 'serve' command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored projects over a read-only JSON API",
	Long: `Start an HTTP server that lists and fetches project documents from the
configured store. Pagination follows ?page= and ?results_per_page=, and
?exclude= drops top-level fields from each object.

The bulkfile store cannot be served; use sqlite, redis or memory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), appConfig)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Store kind: memory, sqlite or redis (default from config)")
	serveCmd.Flags().StringSliceVar(&serveLoad, "load", nil, "Extract(s) to ingest before serving")
}

// runServe serves the API until interrupted.
func runServe(ctx context.Context, cfg *config.MainConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kind := cfg.Store.Kind
	if serveStore != "" {
		kind = serveStore
	}
	if kind == config.StoreBulkFile {
		return fmt.Errorf("the %s store cannot be served", kind)
	}
	addr := cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	st, err := openStore(ctx, cfg, kind)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", kind, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := preload(ctx, cfg, st, m); err != nil {
		return err
	}

	h := api.New(st,
		api.WithLogger(logger),
		api.WithMetrics(m),
		api.WithPageSizes(cfg.API.DefaultPageSize, cfg.API.MaxPageSize),
	)
	srv := api.NewServer(addr, api.NewRouter(h, reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", addr, "store", kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		logger.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// preload ingests the --load extracts into st.
func preload(ctx context.Context, cfg *config.MainConfig, st store.Store, m *metrics.Metrics) error {
	if len(serveLoad) == 0 {
		return nil
	}
	mp, err := newMapper(cfg, cfg.Mapping.Layout)
	if err != nil {
		return err
	}
	driver, err := ingest.New(mp, st,
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithRetry(cfg.Ingest.Retry),
	)
	if err != nil {
		return err
	}

	for _, file := range serveLoad {
		src, err := openSource(file, cfg)
		if err != nil {
			return err
		}
		report, err := driver.Run(ctx, src, file)
		_ = src.Close()
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
		logger.Info("extract loaded", "file", file, "stored", report.Stored, "skipped", report.Skipped())
	}
	return nil
}
