package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
	"github.com/OasisMate/cartpos-sub000/internal/store"
)

type resolverStub map[string]domain.Role

func (r resolverStub) ShopRole(_ context.Context, principalID string, shopID string) (domain.Role, error) {
	role, ok := r[principalID+"|"+shopID]
	if !ok {
		return "", store.ErrNotFound
	}
	return role, nil
}

func TestAuthorize(t *testing.T) {
	gate := NewGate(resolverStub{
		"mgr|shop-a":  domain.RoleManager,
		"cash|shop-a": domain.RoleCashier,
	})
	ctx := context.Background()

	cases := []struct {
		name      string
		principal domain.Principal
		shop      string
		allowed   []domain.Role
		wantErr   bool
	}{
		{"manager may purchase", domain.Principal{ID: "mgr"}, "shop-a", ManagerOrAbove, false},
		{"cashier may sell", domain.Principal{ID: "cash"}, "shop-a", SellRoles, false},
		{"cashier may not purchase", domain.Principal{ID: "cash"}, "shop-a", ManagerOrAbove, true},
		{"manager of other shop", domain.Principal{ID: "mgr"}, "shop-b", SellRoles, true},
		{"platform admin anywhere", domain.Principal{ID: "root", PlatformAdmin: true}, "shop-b", ManagerOrAbove, false},
		{"anonymous", domain.Principal{}, "shop-a", SellRoles, true},
	}

	for _, tc := range cases {
		err := gate.Authorize(ctx, tc.principal, tc.shop, tc.allowed...)
		if tc.wantErr {
			if !errors.Is(err, store.ErrForbidden) {
				t.Fatalf("%s: expected forbidden, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestCanMutate(t *testing.T) {
	gate := NewGate(resolverStub{"mgr|s": domain.RoleManager, "cash|s": domain.RoleCashier})
	ok, err := gate.CanMutate(context.Background(), domain.Principal{ID: "mgr"}, "s")
	if err != nil || !ok {
		t.Fatalf("expected manager to mutate, ok=%v err=%v", ok, err)
	}
	ok, err = gate.CanMutate(context.Background(), domain.Principal{ID: "cash"}, "s")
	if err != nil || ok {
		t.Fatalf("expected cashier denied, ok=%v err=%v", ok, err)
	}
}
