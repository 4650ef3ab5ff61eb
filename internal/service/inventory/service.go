package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/analytics"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

type InventoryService interface {
	List(ctx context.Context) ([]model.InventoryItem, error)
	Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error)
	Create(ctx context.Context, actor model.Actor, req model.CreateInventoryItemRequest) (*model.InventoryItem, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateInventoryItemRequest) (*model.InventoryItem, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
	AdjustStock(ctx context.Context, actor model.Actor, id uuid.UUID, req model.AdjustStockRequest) (*model.InventoryItem, error)
	Alerts(ctx context.Context) ([]model.InventoryItem, error)
	Stats(ctx context.Context) model.InventoryStats
}

type Service struct {
	repo  repository.InventoryRepository
	cache *querycache.Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo repository.InventoryRepository, cache *querycache.Cache, log *logger.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log.Component("inventory"), now: time.Now}
}

var (
	inventoryKeys = []querycache.Key{querycache.KindKey(querycache.KindInventory)}
	dependents    = []querycache.Key{
		querycache.KindKey(querycache.KindInventoryStats),
		querycache.KindKey(querycache.KindDashboard),
	}
)

func listKey() querycache.Key { return querycache.NewKey(querycache.KindInventory) }

func itemKey(id uuid.UUID) querycache.Key {
	return querycache.NewKey(querycache.KindInventory, "id="+id.String())
}

func byID(id uuid.UUID) func(model.InventoryItem) bool {
	return func(i model.InventoryItem) bool { return i.ID == id }
}

func (s *Service) List(ctx context.Context) ([]model.InventoryItem, error) {
	return querycache.Query(ctx, s.cache, listKey(), s.repo.List)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.InventoryItem, error) {
	item, err := querycache.Query(ctx, s.cache, itemKey(id), func(ctx context.Context) (model.InventoryItem, error) {
		item, err := s.repo.Get(ctx, id)
		if err != nil {
			return model.InventoryItem{}, err
		}
		return *item, nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) Create(ctx context.Context, actor model.Actor, req model.CreateInventoryItemRequest) (*model.InventoryItem, error) {
	now := s.now()
	draft := model.InventoryItem{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:         req.Name,
		Category:     req.Category,
		SKU:          req.SKU,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
		UnitCost:     req.UnitCost,
		ExpiryDate:   req.ExpiryDate,
	}
	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.InventoryItem]{
		Name: "create-inventory-item",
		Validate: func() error {
			if draft.Quantity < 0 {
				return apperrors.Validation("quantity cannot be negative")
			}
			return nil
		},
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.Prepend(draft))},
		Do: func(ctx context.Context) (*model.InventoryItem, error) {
			item := draft
			if err := s.repo.Create(ctx, &item); err != nil {
				return nil, fmt.Errorf("failed to create inventory item: %w", err)
			}
			return &item, nil
		},
		Invalidate: inventoryKeys,
		Dependents: dependents,
	})
}

func (s *Service) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req model.UpdateInventoryItemRequest) (*model.InventoryItem, error) {
	var next model.InventoryItem
	patch := func(model.InventoryItem) model.InventoryItem { return next }

	return querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.InventoryItem]{
		Name: "update-inventory-item",
		Validate: func() error {
			cur, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			next = req.Apply(*cur)
			next.UpdatedAt = s.now()
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), patch)),
			querycache.Optimistic(itemKey(id), patch),
		},
		Do: func(ctx context.Context) (*model.InventoryItem, error) {
			fresh, err := s.repo.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to load inventory item: %w", err)
			}
			item := req.Apply(*fresh)
			item.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, &item); err != nil {
				return nil, fmt.Errorf("failed to update inventory item: %w", err)
			}
			return &item, nil
		},
		Invalidate: inventoryKeys,
		Dependents: dependents,
	})
}

func (s *Service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	_, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[struct{}]{
		Name:       "delete-inventory-item",
		Optimistic: []querycache.Update{querycache.Optimistic(listKey(), querycache.RemoveWhere(byID(id)))},
		Do: func(ctx context.Context) (struct{}, error) {
			if err := s.repo.Delete(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("failed to delete inventory item: %w", err)
			}
			return struct{}{}, nil
		},
		Invalidate: inventoryKeys,
		Dependents: dependents,
	})
	return err
}

// AdjustStock adds delta to the on-hand quantity. Stock never drops below
// zero; the cached value is checked first and the gateway enforces it again.
func (s *Service) AdjustStock(ctx context.Context, actor model.Actor, id uuid.UUID, req model.AdjustStockRequest) (*model.InventoryItem, error) {
	adjust := func(i model.InventoryItem) model.InventoryItem {
		i.Quantity += req.Delta
		return i
	}

	item, err := querycache.Mutate(ctx, s.cache, querycache.MutationSpec[*model.InventoryItem]{
		Name: "adjust-stock",
		Validate: func() error {
			if req.Delta == 0 {
				return apperrors.Validation("stock adjustment must change the quantity")
			}
			cur, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			if cur.Quantity+req.Delta < 0 {
				return apperrors.Validation(fmt.Sprintf("only %d %s in stock", cur.Quantity, cur.Name))
			}
			return nil
		},
		Optimistic: []querycache.Update{
			querycache.Optimistic(listKey(), querycache.UpdateWhere(byID(id), adjust)),
			querycache.Optimistic(itemKey(id), adjust),
		},
		Do: func(ctx context.Context) (*model.InventoryItem, error) {
			item, err := s.repo.AdjustStock(ctx, id, req.Delta)
			if err != nil {
				return nil, fmt.Errorf("failed to adjust stock: %w", err)
			}
			return item, nil
		},
		Invalidate: inventoryKeys,
		Dependents: dependents,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("stock adjusted",
		"item_id", id.String(), "delta", req.Delta, "reason", req.Reason, "quantity", item.Quantity, "user_id", actor.UserID.String())
	return item, nil
}

// Alerts lists low and out of stock items from the cached inventory.
func (s *Service) Alerts(ctx context.Context) ([]model.InventoryItem, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.StockAlerts(items), nil
}

func (s *Service) Stats(ctx context.Context) model.InventoryStats {
	stats, err := querycache.Query(ctx, s.cache, querycache.NewKey(querycache.KindInventoryStats),
		func(ctx context.Context) (model.InventoryStats, error) {
			stats, err := s.repo.Stats(ctx, s.now())
			if err != nil {
				return model.InventoryStats{}, err
			}
			return *stats, nil
		})
	if err != nil {
		s.log.Error(err, "failed to load inventory stats")
		return model.InventoryStats{AlertItemIDs: []uuid.UUID{}}
	}
	return stats
}
