package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

const (
	SeedShopID    = "main-shop"
	SeedManagerID = "manager"
	SeedCashierID = "cashier"
)

// NewSeeded returns a store with one shop, a small catalog with opening
// stock, a supplier and a manager/cashier pair for dev mode.
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()

	_ = s.CreateShop(ctx, domain.Shop{ID: SeedShopID, Name: "Main Shop"})
	_ = s.GrantRole(ctx, domain.Membership{PrincipalID: SeedManagerID, ShopID: SeedShopID, Role: domain.RoleManager, Active: true})
	_ = s.GrantRole(ctx, domain.Membership{PrincipalID: SeedCashierID, ShopID: SeedShopID, Role: domain.RoleCashier, Active: true})
	_ = s.CreateSupplier(ctx, domain.Supplier{ID: "sup-grosir", ShopID: SeedShopID, Name: "Grosir Sentosa"})

	products := []struct {
		id    string
		name  string
		price string
		cost  string
		track bool
	}{
		{"prd-mie", "Mie Goreng Instan", "3500", "2700", true},
		{"prd-telur", "Telur 10 Butir", "26500", "23000", true},
		{"prd-susu", "Susu UHT 1L", "18900", "13600", true},
		{"prd-kopi", "Kopi Sachet", "2600", "1700", true},
		{"prd-gula", "Gula 1kg", "17400", "15300", true},
		{"prd-fotokopi", "Jasa Fotokopi", "500", "0", false},
	}

	opening := make([]domain.StockLedgerEntry, 0, len(products))
	now := nowUTC()
	for i, p := range products {
		_ = s.CreateProduct(ctx, domain.Product{
			ID:         p.id,
			ShopID:     SeedShopID,
			Name:       p.name,
			SKU:        fmt.Sprintf("SKU-%03d", i+1),
			SalePrice:  decimal.RequireFromString(p.price),
			CostPrice:  decimal.RequireFromString(p.cost),
			TrackStock: p.track,
			Active:     true,
		})
		if !p.track {
			continue
		}
		opening = append(opening, domain.StockLedgerEntry{
			ID:        "opening-" + p.id,
			ShopID:    SeedShopID,
			ProductID: p.id,
			ChangeQty: decimal.NewFromInt(120),
			Type:      domain.StockAdjustment,
			RefType:   domain.RefAdjustment,
			Note:      "opening stock",
			CreatedBy: "system",
			CreatedAt: now,
		})
	}

	s.mu.Lock()
	s.data.stockEntries = append(s.data.stockEntries, opening...)
	s.mu.Unlock()
	return s
}
