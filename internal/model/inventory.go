package model

import (
	"time"
)

type InventoryItem struct {
	Base
	Name         string     `db:"name" json:"name"`
	Category     string     `db:"category" json:"category"`
	SKU          *string    `db:"sku" json:"sku,omitempty"`
	Quantity     int        `db:"quantity" json:"quantity"`
	ReorderLevel int        `db:"reorder_level" json:"reorder_level"`
	UnitCost     float64    `db:"unit_cost" json:"unit_cost"`
	ExpiryDate   *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
}

func (i InventoryItem) LowStock() bool {
	return i.Quantity > 0 && i.Quantity <= i.ReorderLevel
}

func (i InventoryItem) OutOfStock() bool {
	return i.Quantity <= 0
}

type CreateInventoryItemRequest struct {
	Name         string     `json:"name" binding:"required,max=200"`
	Category     string     `json:"category" binding:"required,max=100"`
	SKU          *string    `json:"sku" binding:"omitempty,max=64"`
	Quantity     int        `json:"quantity" binding:"gte=0"`
	ReorderLevel int        `json:"reorder_level" binding:"gte=0"`
	UnitCost     float64    `json:"unit_cost" binding:"gte=0"`
	ExpiryDate   *time.Time `json:"expiry_date"`
}

type UpdateInventoryItemRequest struct {
	Name         *string    `json:"name" binding:"omitempty,max=200"`
	Category     *string    `json:"category" binding:"omitempty,max=100"`
	ReorderLevel *int       `json:"reorder_level" binding:"omitempty,gte=0"`
	UnitCost     *float64   `json:"unit_cost" binding:"omitempty,gte=0"`
	ExpiryDate   *time.Time `json:"expiry_date"`
}

func (r UpdateInventoryItemRequest) Apply(i InventoryItem) InventoryItem {
	if r.Name != nil {
		i.Name = *r.Name
	}
	if r.Category != nil {
		i.Category = *r.Category
	}
	if r.ReorderLevel != nil {
		i.ReorderLevel = *r.ReorderLevel
	}
	if r.UnitCost != nil {
		i.UnitCost = *r.UnitCost
	}
	if r.ExpiryDate != nil {
		i.ExpiryDate = r.ExpiryDate
	}
	return i
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required,max=200"`
}
