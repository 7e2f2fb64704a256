package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStockMovementBeforeSaveRejectsUpdates(t *testing.T) {
	m := &StockMovement{ID: 7, Type: StockMovementTypeReceipt, QtyDelta: decimal.NewFromInt(1)}
	if err := m.BeforeSave(nil); err == nil {
		t.Fatalf("expected immutability error for an existing row")
	}
}

func TestStockMovementBeforeSaveSignInvariants(t *testing.T) {
	consumption := &StockMovement{Type: StockMovementTypeConsumption, QtyDelta: decimal.NewFromInt(5)}
	if err := consumption.BeforeSave(nil); err == nil {
		t.Fatalf("consumption with positive delta must be rejected")
	}

	receipt := &StockMovement{Type: StockMovementTypeReceipt, QtyDelta: decimal.NewFromInt(-5)}
	if err := receipt.BeforeSave(nil); err == nil {
		t.Fatalf("receipt with negative delta must be rejected")
	}

	ok := &StockMovement{Type: StockMovementTypeConsumption, QtyDelta: decimal.NewFromInt(-5)}
	if err := ok.BeforeSave(nil); err != nil {
		t.Fatalf("valid consumption rejected: %v", err)
	}

	// Adjustments may go either way.
	adj := &StockMovement{Type: StockMovementTypeAdjustment, QtyDelta: decimal.NewFromInt(-3)}
	if err := adj.BeforeSave(nil); err != nil {
		t.Fatalf("valid adjustment rejected: %v", err)
	}
}
