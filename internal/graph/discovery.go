package graph

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"eisenbahn/internal/logging"
)

// SQLCatalogBackend is the narrow capability external schema discovery
// backends implement (§6, §9 "Capability traits"). Concrete
// implementations (Athena, Postgres information_schema, ...) live outside
// this module; tests use in-memory fakes.
type SQLCatalogBackend interface {
	Kind() string
	ConnectionID() string
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, database string) ([]string, error)
	ListColumns(ctx context.Context, database, table string) ([]string, error)
}

// DiscoverSource walks one backend's databases -> tables -> columns tree
// with a bounded concurrency budget. Per-object errors are logged and
// skipped rather than aborting the whole discovery, per §4.4's contract.
func DiscoverSource(ctx context.Context, backend SQLCatalogBackend, concurrency int, logger *slog.Logger) (ExternalSource, error) {
	logger = logging.Default(logger).With("component", "graph.discovery", "source_kind", backend.Kind())
	if concurrency < 1 {
		concurrency = 1
	}

	dbNames, err := backend.ListDatabases(ctx)
	if err != nil {
		return ExternalSource{}, err
	}

	databases := make([]ExternalDatabase, len(dbNames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, dbName := range dbNames {
		i, dbName := i, dbName
		g.Go(func() error {
			tables, err := discoverDatabase(gctx, backend, dbName, concurrency, logger)
			databases[i] = ExternalDatabase{Name: dbName, Tables: tables}
			return nil // per-database errors are already logged inside; never abort the group
		})
	}
	_ = g.Wait()

	return ExternalSource{Kind: backend.Kind(), ConnectionID: backend.ConnectionID(), Databases: databases}, nil
}

func discoverDatabase(ctx context.Context, backend SQLCatalogBackend, database string, concurrency int, logger *slog.Logger) ([]ExternalTable, error) {
	tableNames, err := backend.ListTables(ctx, database)
	if err != nil {
		logger.Warn("skipping database after list-tables error", "database", database, "error", err)
		return nil, nil
	}

	tables := make([]ExternalTable, len(tableNames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, tableName := range tableNames {
		i, tableName := i, tableName
		g.Go(func() error {
			cols, err := backend.ListColumns(gctx, database, tableName)
			if err != nil {
				logger.Warn("skipping table after list-columns error", "database", database, "table", tableName, "error", err)
				tables[i] = ExternalTable{Name: tableName}
				return nil
			}
			tables[i] = ExternalTable{Name: tableName, Columns: cols}
			return nil
		})
	}
	_ = g.Wait()
	return tables, nil
}
