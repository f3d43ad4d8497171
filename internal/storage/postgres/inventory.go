package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/checkout-core/internal/domain/inventory"
)

const (
	getInventorySQL = `SELECT product_id, total_stock, available_stock, reserved_stock, updated_at
		FROM inventory WHERE product_id = $1`

	// FOR UPDATE serializes the read-check-write sequence inside the
	// ledger primitives: two concurrent reserves for the same product
	// queue on this lock instead of both reading stale counts.
	getInventoryForUpdateSQL = getInventorySQL + ` FOR UPDATE`

	createInventorySQL = `INSERT INTO inventory (product_id, total_stock, available_stock, reserved_stock)
		VALUES ($1, $2, $3, $4)`

	updateInventorySQL = `UPDATE inventory
		SET total_stock = $2, available_stock = $3, reserved_stock = $4, updated_at = now()
		WHERE product_id = $1`
)

var _ inventory.Repository = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Repository backed by PostgreSQL.
type InventoryRepository struct {
	db *DB
}

// NewInventoryRepository returns an InventoryRepository on the given DB.
func NewInventoryRepository(db *DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// Create inserts a fresh ledger row for a product.
func (r *InventoryRepository) Create(ctx context.Context, rec *inventory.Record) error {
	_, err := r.db.q(ctx).Exec(ctx, createInventorySQL,
		rec.ProductID, rec.Total, rec.Available, rec.Reserved,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return inventory.ErrAlreadyExists
		}
		return errors.Wrapf(err, "creating inventory %q", rec.ProductID)
	}
	return nil
}

// Get returns the ledger record without locking it.
func (r *InventoryRepository) Get(ctx context.Context, productID string) (*inventory.Record, error) {
	return r.get(ctx, getInventorySQL, productID)
}

// GetForUpdate returns the ledger record under an exclusive row lock held
// until the ambient transaction ends.
func (r *InventoryRepository) GetForUpdate(ctx context.Context, productID string) (*inventory.Record, error) {
	return r.get(ctx, getInventoryForUpdateSQL, productID)
}

func (r *InventoryRepository) get(ctx context.Context, sql, productID string) (*inventory.Record, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "getting inventory %q", productID)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanInventory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting inventory %q", productID)
	}
	return &rec, nil
}

// UpdateCounts persists the three counters of a mutated record.
func (r *InventoryRepository) UpdateCounts(ctx context.Context, rec *inventory.Record) error {
	tag, err := r.db.q(ctx).Exec(ctx, updateInventorySQL,
		rec.ProductID, rec.Total, rec.Available, rec.Reserved,
	)
	if err != nil {
		return errors.Wrapf(err, "updating inventory %q", rec.ProductID)
	}
	if tag.RowsAffected() != 1 {
		return inventory.ErrNotFound
	}
	return nil
}

func scanInventory(row pgx.CollectableRow) (inventory.Record, error) {
	var rec inventory.Record
	err := row.Scan(&rec.ProductID, &rec.Total, &rec.Available, &rec.Reserved, &rec.UpdatedAt)
	return rec, err
}
