package warehouse

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver, used only for migrations
)

// Config holds the connection and pool settings for PostgresWarehouse
// (spec.md §6.3, §6.4).
type Config struct {
	DSN string

	MaxConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresWarehouse is the production Warehouse backend: Postgres fronted
// by pgx/v5, standing in for the "columnar warehouse" named in spec.md
// §4.1 — no columnar store appears anywhere in the retrieval pack, so a
// relational table with one row per invoice/line-item is the closest
// available primitive.
type PostgresWarehouse struct {
	pool *pgxpool.Pool
}

// NewPostgresWarehouse opens a pool, applies embedded migrations, and
// returns a ready-to-use PostgresWarehouse.
func NewPostgresWarehouse(ctx context.Context, cfg Config) (*PostgresWarehouse, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if err := applyMigrations(cfg.DSN, migrationsFS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &PostgresWarehouse{pool: pool}, nil
}

// applyMigrations runs the embedded golang-migrate source tree against dsn
// using a short-lived database/sql connection, independent of the pgxpool
// used for steady-state writes.
func applyMigrations(dsn string, fsys embed.FS) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(fsys, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (w *PostgresWarehouse) Close() {
	w.pool.Close()
}

// InsertRows inserts rows into table inside a single transaction. idempotencyKey
// is recorded on the invoices table's source_message_id column so a
// redelivered batch for the same message is detectable even though the
// INSERT itself is not deduped here — ExistsByKey is the dedupe gate stage
// 4 checks before calling InsertRows at all (spec.md §4.5).
func (w *PostgresWarehouse) InsertRows(ctx context.Context, table string, rows []Row, idempotencyKey string) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cols := columnOrder(rows[0])
	if table == TableInvoices {
		rows = withSourceMessageID(rows, idempotencyKey)
		cols = columnOrder(rows[0])
	}

	stmt := buildInsert(table, cols)
	batch := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		vals := make([]interface{}, len(cols))
		for i, c := range cols {
			vals[i] = row[c]
		}
		batch = append(batch, vals)
	}

	for _, vals := range batch {
		if _, err := tx.Exec(ctx, stmt, vals...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}

// ExistsByKey checks invoices for a (invoice_id, vendor_type) pair encoded
// as "vendorType/invoiceID" by InvoiceKey. Only the invoices table carries
// the composite key used for deduping (spec.md §3.3, §4.5).
func (w *PostgresWarehouse) ExistsByKey(ctx context.Context, table string, key string) (bool, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("malformed warehouse key %q", key)
	}
	vendorType, invoiceID := parts[0], parts[1]

	var exists bool
	err := w.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE invoice_id = $1 AND vendor_type = $2)", table),
		invoiceID, vendorType,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists query on %s: %w", table, err)
	}
	return exists, nil
}

func withSourceMessageID(rows []Row, idempotencyKey string) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		cp := make(Row, len(r)+1)
		for k, v := range r {
			cp[k] = v
		}
		cp["source_message_id"] = idempotencyKey
		out[i] = cp
	}
	return out
}

func columnOrder(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, cols []string) string {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}
