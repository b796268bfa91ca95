package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/podx/oracle/internal/domain"
)

type fakeProductStore struct {
	stock map[string]int64
	err   error
}

func (f *fakeProductStore) IncrementStock(ctx context.Context, owner, sku string, qty int64) error {
	if f.err != nil {
		return f.err
	}
	if f.stock == nil {
		f.stock = map[string]int64{}
	}
	f.stock[owner+"/"+sku] += qty
	return nil
}

func TestReplenish_IncrementsEachLineItem(t *testing.T) {
	products := &fakeProductStore{}
	r := NewReplenisher(products)

	err := r.Replenish(context.Background(), "0xBuyer", []domain.LineItem{
		{SKU: "widget", Qty: 10},
		{SKU: "gadget", Qty: 3},
	})
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if products.stock["0xBuyer/widget"] != 10 {
		t.Fatalf("expected widget stock 10, got %d", products.stock["0xBuyer/widget"])
	}
	if products.stock["0xBuyer/gadget"] != 3 {
		t.Fatalf("expected gadget stock 3, got %d", products.stock["0xBuyer/gadget"])
	}
}

func TestReplenish_SkipsZeroAndNegativeQty(t *testing.T) {
	products := &fakeProductStore{}
	r := NewReplenisher(products)

	err := r.Replenish(context.Background(), "0xBuyer", []domain.LineItem{
		{SKU: "widget", Qty: 0},
		{SKU: "broken", Qty: -5},
	})
	if err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if len(products.stock) != 0 {
		t.Fatalf("expected no stock updates, got %v", products.stock)
	}
}

func TestReplenish_PropagatesStoreError(t *testing.T) {
	products := &fakeProductStore{err: errors.New("db down")}
	r := NewReplenisher(products)

	err := r.Replenish(context.Background(), "0xBuyer", []domain.LineItem{{SKU: "widget", Qty: 1}})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
