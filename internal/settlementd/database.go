package settlementd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/settlement/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/ledger"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "settlement.db"
)

// backend is an opened store with its ledger and order views.
type backend struct {
	ledger  ledger.Store
	orders  settlement.Store
	ping    func(ctx context.Context) error
	pool    *pgxpool.Pool
	cleanup func()
}

func (opened backend) Ping(ctx context.Context) error {
	return opened.ping(ctx)
}

func openBackend(ctx context.Context, cfg Config) (backend, error) {
	switch cfg.StoreDriver {
	case StoreDriverMemory:
		database := memstore.New()
		return backend{ledger: database.Ledger(), orders: database.Orders(), ping: database.Ping, cleanup: func() {}}, nil
	case StoreDriverPGX:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("pgx pool: %w", err)
		}
		database := pgstore.New(pool, pgstore.WithLockTimeout(cfg.LockTimeout))
		if err := database.ApplySchema(ctx); err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{ledger: database.Ledger(), orders: database.Orders(), ping: database.Ping, pool: pool, cleanup: pool.Close}, nil
	default:
		gormDB, closeDB, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return backend{}, fmt.Errorf("database open: %w", err)
		}
		database := gormstore.New(gormDB, gormstore.WithLockTimeout(cfg.LockTimeout))
		if err := database.Migrate(ctx); err != nil {
			_ = closeDB()
			return backend{}, err
		}
		return backend{ledger: database.Ledger(), orders: database.Orders(), ping: database.Ping, cleanup: func() { _ = closeDB() }}, nil
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// sqlite has a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func resolveDriver(dsn string) (string, string, error) {
	if isPostgresURL(dsn) {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
