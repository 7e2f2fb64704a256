package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
)

// StockMovement is one row of the append-only inventory ledger. Rows are
// never updated or deleted; current_stock on the item is derived from the
// sum of QtyDelta over all rows.
type StockMovement struct {
	ID          int               `gorm:"primary_key" json:"id"`
	StockItemId int               `gorm:"index;not null" json:"stock_item_id"`
	Type        StockMovementType `gorm:"type:enum('receipt','consumption','adjustment');not null" json:"type"`
	QtyDelta    decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	ClosingQty  decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"closing_qty"`
	UnitCost    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	// Polymorphic source document: Ticket for consumption, PurchaseOrder for receipt.
	ReferenceType string    `gorm:"size:50;index:idx_movement_ref" json:"reference_type"`
	ReferenceId   int       `gorm:"index:idx_movement_ref" json:"reference_id"`
	Note          string    `gorm:"size:255" json:"note"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeSave enforces ledger invariants.
//
// CRITICAL: ClosingQty is the post-movement balance snapshot; audit queries and
// the rebuild tool rely on the sign of QtyDelta matching the movement type.
func (m *StockMovement) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if m == nil {
		return nil
	}
	if m.ID != 0 {
		return errors.New("stock movements are immutable")
	}
	if m.Type == StockMovementTypeConsumption && m.QtyDelta.IsPositive() {
		return errors.New("consumption movement must have a non-positive qty delta")
	}
	if m.Type == StockMovementTypeReceipt && m.QtyDelta.IsNegative() {
		return errors.New("receipt movement must have a non-negative qty delta")
	}
	return nil
}

// NewStockMovement is the internal input for a single ledger append.
type NewStockMovement struct {
	StockItemId   int
	Type          StockMovementType
	QtyDelta      decimal.Decimal
	UnitCost      decimal.Decimal
	ReferenceType string
	ReferenceId   int
	Note          string
	UserId        int
}

// RecordMovement appends one ledger row and moves the materialized balance in
// the same transaction: locks the StockItem row, applies the delta with a raw
// UPDATE, and inserts the movement with its closing balance. The returned
// movement carries the new balance in ClosingQty. This is the only mutation
// path for StockItem.CurrentStock.
//
// Callers own the transaction; any error here must roll the whole unit back.
func RecordMovement(tx *gorm.DB, input NewStockMovement) (*StockMovement, error) {
	if input.StockItemId <= 0 {
		return nil, errors.New("stock item is required")
	}
	if input.UserId <= 0 {
		return nil, errors.New("user id is required")
	}

	item, err := lockStockItem(tx, input.StockItemId)
	if err != nil {
		return nil, err
	}

	newBalance := item.CurrentStock.Add(input.QtyDelta)

	// Cost snapshot defaults to the item's current unit cost when the caller
	// does not supply one (consumption and plain adjustments).
	if input.UnitCost.IsZero() {
		input.UnitCost = item.UnitCost
	}

	if err := tx.Exec("UPDATE stock_items SET current_stock = current_stock + ? WHERE id = ?",
		input.QtyDelta, item.ID).Error; err != nil {
		return nil, err
	}

	movement := StockMovement{
		StockItemId:   input.StockItemId,
		Type:          input.Type,
		QtyDelta:      input.QtyDelta,
		ClosingQty:    newBalance,
		UnitCost:      input.UnitCost,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		Note:          input.Note,
		UserId:        input.UserId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}

	return &movement, nil
}

// GetStockMovements lists ledger rows for one item, newest first.
func GetStockMovements(ctx context.Context, stockItemId int) ([]*StockMovement, error) {
	if err := utils.ValidateResourceId[StockItem](ctx, stockItemId); err != nil {
		return nil, errors.New("stock item not found")
	}

	db := config.GetDB()
	var results []*StockMovement
	err := db.WithContext(ctx).
		Where("stock_item_id = ?", stockItemId).
		Order("id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type NewStockAdjustment struct {
	StockItemId int             `json:"stock_item_id" binding:"required"`
	QtyDelta    decimal.Decimal `json:"qty_delta" binding:"required"`
	Note        string          `json:"note"`
}

// CreateStockAdjustment posts a manual correction (waste, recount, damage)
// through the same ledger path as receipts and consumption.
func CreateStockAdjustment(ctx context.Context, input *NewStockAdjustment) (*StockMovement, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if input.QtyDelta.IsZero() {
		return nil, errors.New("qty delta cannot be zero")
	}
	if err := utils.ValidateResourceId[StockItem](ctx, input.StockItemId); err != nil {
		return nil, errors.New("stock item not found")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	movement, err := RecordMovement(tx.WithContext(ctx), NewStockMovement{
		StockItemId: input.StockItemId,
		Type:        StockMovementTypeAdjustment,
		QtyDelta:    input.QtyDelta,
		Note:        input.Note,
		UserId:      userId,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return movement, nil
}
