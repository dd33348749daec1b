package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/pfi-indexer/internal/config"
	"github.com/ginjaninja78/pfi-indexer/internal/csvparser"
	"github.com/ginjaninja78/pfi-indexer/internal/mapper"
	"github.com/ginjaninja78/pfi-indexer/internal/store"
	"github.com/ginjaninja78/pfi-indexer/internal/store/bulkfile"
	pfiredis "github.com/ginjaninja78/pfi-indexer/internal/store/redis"
	"github.com/ginjaninja78/pfi-indexer/internal/store/sqlite"
	"github.com/ginjaninja78/pfi-indexer/internal/types"
	"github.com/ginjaninja78/pfi-indexer/internal/xlsxparser"
)

// openStore opens the store of the given kind.
func openStore(ctx context.Context, cfg *config.MainConfig, kind string) (store.ReadStore, error) {
	switch kind {
	case config.StoreMemory:
		return store.NewMemory(), nil

	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.StoreRedis:
		s, err := pfiredis.Open(ctx, cfg.Store.RedisURL, cfg.Store.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.StoreBulkFile:
		s, err := bulkfile.New(bulkfile.Options{
			Path:        cfg.Store.BulkPath,
			Index:       cfg.Store.BulkIndex,
			MappingPath: cfg.Store.BulkMappingPath,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// newMapper builds the mapper for a layout name.
func newMapper(cfg *config.MainConfig, layoutName string) (*mapper.Mapper, error) {
	layout, err := mapper.LayoutByName(layoutName)
	if err != nil {
		return nil, err
	}
	opts := []mapper.Option{mapper.WithLayout(layout)}
	if len(cfg.Mapping.DateLayouts) > 0 {
		opts = append(opts, mapper.WithDateLayouts(cfg.Mapping.DateLayouts...))
	}
	return mapper.New(opts...)
}

// openSource opens an extract with the reader matching its extension.
func openSource(path string, cfg *config.MainConfig) (types.RowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		p, err := xlsxparser.Open(path, cfg.XLSX)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ".csv", ".txt", "":
		p, err := csvparser.Open(path, cfg.CSV)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q: expected .csv or .xlsx", filepath.Ext(path))
	}
}
