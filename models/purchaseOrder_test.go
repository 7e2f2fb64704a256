package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputePurchaseOrderTotals(t *testing.T) {
	items := []PurchaseOrderItem{
		{OrderedQty: decimal.NewFromInt(60), UnitCost: decimal.NewFromInt(5)},
		{OrderedQty: decimal.RequireFromString("2.5"), UnitCost: decimal.RequireFromString("10.4")},
	}
	tax := decimal.NewFromInt(12)
	shipping := decimal.RequireFromString("7.5")

	subtotal, total := ComputePurchaseOrderTotals(items, tax, shipping)

	if !subtotal.Equal(decimal.RequireFromString("326")) {
		t.Fatalf("subtotal: expected 326, got %s", subtotal)
	}
	if !total.Equal(subtotal.Add(tax).Add(shipping)) {
		t.Fatalf("total must equal subtotal + tax + shipping, got %s", total)
	}
	if !total.Equal(decimal.RequireFromString("345.5")) {
		t.Fatalf("total: expected 345.5, got %s", total)
	}
}

func TestComputePurchaseOrderTotalsEmpty(t *testing.T) {
	subtotal, total := ComputePurchaseOrderTotals(nil, decimal.Zero, decimal.Zero)
	if !subtotal.IsZero() || !total.IsZero() {
		t.Fatalf("expected zero totals, got subtotal=%s total=%s", subtotal, total)
	}
}

func TestValidPoTransition(t *testing.T) {
	cases := []struct {
		from, to PurchaseOrderStatus
		want     bool
	}{
		{PurchaseOrderStatusDraft, PurchaseOrderStatusApproved, true},
		{PurchaseOrderStatusApproved, PurchaseOrderStatusOrdered, true},
		{PurchaseOrderStatusDraft, PurchaseOrderStatusOrdered, false},
		{PurchaseOrderStatusOrdered, PurchaseOrderStatusApproved, false},
		// received is only reachable through ReceivePurchaseOrder
		{PurchaseOrderStatusOrdered, PurchaseOrderStatusReceived, false},
		{PurchaseOrderStatusDraft, PurchaseOrderStatusCancelled, true},
		{PurchaseOrderStatusOrdered, PurchaseOrderStatusCancelled, true},
		{PurchaseOrderStatusReceived, PurchaseOrderStatusCancelled, false},
		{PurchaseOrderStatusCancelled, PurchaseOrderStatusApproved, false},
	}
	for _, c := range cases {
		if got := validPoTransition(c.from, c.to); got != c.want {
			t.Errorf("validPoTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
