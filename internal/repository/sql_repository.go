package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopcart/cart-service/internal/domain"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	migrationsTable = "cart_schema_migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLRepository stores carts in a carts table and their lines in cart_items.
// It runs on Postgres (lib/pq) or SQLite (modernc.org/sqlite).
type SQLRepository struct {
	db     *sql.DB
	driver string
}

func NewSQLRepository(driver, dsn string) (*SQLRepository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps ":memory:" databases shared and serializes writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
	}

	return &SQLRepository{db: db, driver: driver}, nil
}

func (r *SQLRepository) RunMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{MigrationsTable: migrationsTable})
	default:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, r.driver, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *SQLRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cart := &domain.Cart{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, user_id, version, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID,
	).Scan(&cart.ID, &cart.UserID, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items, err := queryItems(ctx, tx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	cart.Relink()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read: %w", err)
	}
	return cart, nil
}

func queryItems(ctx context.Context, tx *sql.Tx, cartID string) ([]*domain.Item, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, product_name, sku, quantity, unit_price, size, color, image
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position`, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	items := []*domain.Item{}
	for rows.Next() {
		var (
			item        domain.Item
			size, color sql.NullString
		)
		if err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.SKU,
			&item.Quantity,
			&item.UnitPrice,
			&size,
			&color,
			&item.Image,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		item.Variant = domain.Variant{Size: nullableString(size), Color: nullableString(color)}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (r *SQLRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	cart.Touch(time.Now().UTC())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, subtotal, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cart.ID, cart.UserID, cart.Subtotal, cart.Total, cart.Version, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCartExists
		}
		return fmt.Errorf("insert cart: %w", err)
	}

	if err := insertItems(ctx, tx, cart); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cart: %w", err)
	}
	return nil
}

func (r *SQLRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	cart.Touch(time.Now().UTC())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET subtotal = $1, total = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5`,
		cart.Subtotal, cart.Total, cart.UpdatedAt, cart.ID, cart.Version)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cart rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if err := insertItems(ctx, tx, cart); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cart: %w", err)
	}

	cart.Version++
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, cart *domain.Cart) error {
	for i, item := range cart.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (id, cart_id, position, product_id, product_name, sku, quantity, unit_price, subtotal, size, color, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			item.ID,
			cart.ID,
			i,
			item.ProductID,
			item.ProductName,
			item.SKU,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
			toNullString(item.Variant.Size),
			toNullString(item.Variant.Color),
			item.Image,
		)
		if err != nil {
			return fmt.Errorf("insert cart item %s: %w", item.ID, err)
		}
	}
	return nil
}

func (r *SQLRepository) Close(context.Context) error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlitedriver.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
