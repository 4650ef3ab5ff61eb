package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const inventoryColumns = `id, name, category, sku, quantity, reorder_level, unit_cost, expiry_date,
	created_at, updated_at`

func (r *inventoryRepository) List(ctx context.Context) ([]model.InventoryItem, error) {
	items := []model.InventoryItem{}
	err := r.db.SelectContext(ctx, &items, `SELECT `+inventoryColumns+` FROM inventory_items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	return items, nil
}

func (r *inventoryRepository) Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	var item model.InventoryItem
	err := r.db.GetContext(ctx, &item, `SELECT `+inventoryColumns+` FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return nil, wrapErr(err, "get", "inventory item")
	}
	return &item, nil
}

func (r *inventoryRepository) Create(ctx context.Context, item *model.InventoryItem) error {
	query := `
		INSERT INTO inventory_items (` + inventoryColumns + `) VALUES (
			:id, :name, :category, :sku, :quantity, :reorder_level, :unit_cost, :expiry_date,
			:created_at, :updated_at
		)
	`
	item.ID = uuid.New()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt

	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("failed to create inventory item: %w", err)
	}
	return nil
}

// Update leaves quantity alone; stock only moves through AdjustStock.
func (r *inventoryRepository) Update(ctx context.Context, item *model.InventoryItem) error {
	query := `
		UPDATE inventory_items
		SET name = :name, category = :category, sku = :sku, reorder_level = :reorder_level,
			unit_cost = :unit_cost, expiry_date = :expiry_date, updated_at = :updated_at
		WHERE id = :id
	`
	item.UpdatedAt = time.Now()
	res, err := r.db.NamedExecContext(ctx, query, item)
	if err != nil {
		return fmt.Errorf("failed to update inventory item: %w", err)
	}
	return expectOne(res, "inventory item")
}

func (r *inventoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete inventory item: %w", err)
	}
	return expectOne(res, "inventory item")
}

func (r *inventoryRepository) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*model.InventoryItem, error) {
	query := `
		UPDATE inventory_items
		SET quantity = quantity + $1, updated_at = $2
		WHERE id = $3 AND quantity + $1 >= 0
		RETURNING ` + inventoryColumns
	var item model.InventoryItem
	err := r.db.GetContext(ctx, &item, query, delta, time.Now(), id)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to adjust stock: %w", err)
	}
	// No row came back: either the item is gone or the guard refused it.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, apperrors.Conflict("insufficient stock")
}

func (r *inventoryRepository) Stats(ctx context.Context, now time.Time) (*model.InventoryStats, error) {
	items, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := analytics.Inventory(items, now)
	return &stats, nil
}
