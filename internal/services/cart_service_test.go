package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/skydish/api/internal/domain"
)

type stubCatalog struct {
	items map[string]domain.CatalogItem
	calls int
}

func (s *stubCatalog) FindItem(_ context.Context, kind domain.CatalogKind, id string) (domain.CatalogItem, error) {
	s.calls++
	item, ok := s.items[string(kind)+"/"+id]
	if !ok {
		return domain.CatalogItem{}, testRepoError{msg: "catalog item not found", notFound: true}
	}
	return item, nil
}

func newTestCartService(t *testing.T) (*cartService, *memoryStore, *stubCatalog) {
	t.Helper()
	store := newMemoryStore()
	catalog := &stubCatalog{items: map[string]domain.CatalogItem{
		"dish/dish-1":   {ID: "dish-1", Kind: domain.CatalogKindDish, Name: "Mapo Tofu", UnitAmount: 1800, Available: true},
		"dish/dish-2":   {ID: "dish-2", Kind: domain.CatalogKindDish, Name: "Seasonal Greens", UnitAmount: 900, Available: false},
		"combo/combo-1": {ID: "combo-1", Kind: domain.CatalogKindCombo, Name: "Family Set", UnitAmount: 8800, Available: true},
	}}
	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Repository: memoryCarts{store},
		Catalog:    catalog,
		UnitOfWork: store,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%03d", seq)
		},
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc.(*cartService), store, catalog
}

func TestCartServiceAddItemSnapshotsCatalog(t *testing.T) {
	svc, store, catalog := newTestCartService(t)

	line, err := svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", DishID: "dish-1", Flavor: "extra spicy"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if line.ID != "cl_001" || line.Name != "Mapo Tofu" || line.UnitAmount != 1800 || line.Quantity != 1 {
		t.Fatalf("unexpected line %+v", line)
	}

	again, err := svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", DishID: "dish-1", Flavor: "extra spicy"})
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if again.ID != line.ID || again.Quantity != 2 {
		t.Fatalf("expected merged line, got %+v", again)
	}
	if catalog.calls != 1 {
		t.Fatalf("expected one catalog lookup, got %d", catalog.calls)
	}

	if _, err := svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", DishID: "dish-1", Flavor: "mild"}); err != nil {
		t.Fatalf("add other flavor: %v", err)
	}
	if got := len(store.cartLines("user-1")); got != 2 {
		t.Fatalf("expected flavors kept apart, got %d lines", got)
	}
}

func TestCartServiceAddItemValidation(t *testing.T) {
	svc, _, _ := newTestCartService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CartItemCommand
		want error
	}{
		{"missing user", CartItemCommand{DishID: "dish-1"}, ErrCartInvalidInput},
		{"neither id", CartItemCommand{UserID: "user-1"}, ErrCartInvalidInput},
		{"both ids", CartItemCommand{UserID: "user-1", DishID: "dish-1", ComboID: "combo-1"}, ErrCartInvalidInput},
		{"unknown dish", CartItemCommand{UserID: "user-1", DishID: "dish-9"}, ErrCartItemNotFound},
		{"unavailable dish", CartItemCommand{UserID: "user-1", DishID: "dish-2"}, ErrCartItemUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddItem(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCartServiceComboIgnoresFlavor(t *testing.T) {
	svc, _, _ := newTestCartService(t)

	line, err := svc.AddItem(context.Background(), CartItemCommand{UserID: "user-1", ComboID: "combo-1", Flavor: "mild"})
	if err != nil {
		t.Fatalf("add combo: %v", err)
	}
	if line.Flavor != "" || line.DishID != "" {
		t.Fatalf("unexpected combo line %+v", line)
	}
}

func TestCartServiceRemoveItem(t *testing.T) {
	svc, store, _ := newTestCartService(t)
	store.seedCart(
		domain.CartLine{ID: "cl_a", UserID: "user-1", DishID: "dish-1", UnitAmount: 1800, Quantity: 2},
		domain.CartLine{ID: "cl_b", UserID: "user-1", ComboID: "combo-1", UnitAmount: 8800, Quantity: 1},
	)

	view, err := svc.RemoveItem(context.Background(), CartItemCommand{UserID: "user-1", DishID: "dish-1"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if view.Total != 1800+8800 {
		t.Fatalf("unexpected total %d", view.Total)
	}

	view, err = svc.RemoveItem(context.Background(), CartItemCommand{UserID: "user-1", ComboID: "combo-1"})
	if err != nil {
		t.Fatalf("remove combo: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].ID != "cl_a" {
		t.Fatalf("expected combo line deleted, got %+v", view.Lines)
	}

	if _, err := svc.RemoveItem(context.Background(), CartItemCommand{UserID: "user-1", ComboID: "combo-1"}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCartServiceListAndClear(t *testing.T) {
	svc, store, _ := newTestCartService(t)

	view, err := svc.ListCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if view.Lines == nil || len(view.Lines) != 0 || view.Total != 0 {
		t.Fatalf("expected empty cart view, got %+v", view)
	}

	store.seedCart(domain.CartLine{ID: "cl_a", UserID: "user-1", DishID: "dish-1", UnitAmount: 1800, Quantity: 3})
	view, err = svc.ListCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if view.Total != 5400 {
		t.Fatalf("expected total 5400, got %d", view.Total)
	}

	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(store.cartLines("user-1")) != 0 {
		t.Fatalf("expected cart cleared")
	}
	if err := svc.ClearCart(context.Background(), " "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
