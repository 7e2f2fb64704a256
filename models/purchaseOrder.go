package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseOrder replenishes raw materials. Receiving is the only path that
// credits the stock ledger from the supply side.
type PurchaseOrder struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	OrderNumber  string              `gorm:"size:50;not null;uniqueIndex" json:"order_number"`
	SequenceNo   int64               `gorm:"not null" json:"sequence_no"`
	SupplierName string              `gorm:"size:255;not null" json:"supplier_name"`
	Status       PurchaseOrderStatus `gorm:"type:enum('draft','approved','ordered','received','cancelled');not null;default:'draft';index" json:"status"`

	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	ShippingAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"shipping_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`

	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date"`
	ReceivedAt           *time.Time `json:"received_at"`
	Notes                string     `gorm:"type:text" json:"notes"`

	Items     []PurchaseOrderItem `json:"items"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	StockItemId     int             `gorm:"index;not null" json:"stock_item_id"`
	OrderedQty      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ordered_qty"`
	ReceivedQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"received_qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
}

type NewPurchaseOrder struct {
	SupplierName         string                 `json:"supplier_name" binding:"required"`
	TaxAmount            decimal.Decimal        `json:"tax_amount"`
	ShippingAmount       decimal.Decimal        `json:"shipping_amount"`
	ExpectedDeliveryDate *time.Time             `json:"expected_delivery_date"`
	Notes                string                 `json:"notes"`
	Items                []NewPurchaseOrderItem `json:"items" binding:"required"`
}

type NewPurchaseOrderItem struct {
	StockItemId int             `json:"stock_item_id" binding:"required"`
	OrderedQty  decimal.Decimal `json:"ordered_qty" binding:"required"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// ReceiveLine reports the delivered quantity for one order line.
type ReceiveLine struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id" binding:"required"`
	Quantity            decimal.Decimal `json:"quantity" binding:"required"`
}

// ComputePurchaseOrderTotals keeps total == subtotal + tax + shipping exact:
// subtotal is the sum of ordered_qty * unit_cost over all lines.
func ComputePurchaseOrderTotals(items []PurchaseOrderItem, tax, shipping decimal.Decimal) (subtotal, total decimal.Decimal) {
	for _, item := range items {
		subtotal = subtotal.Add(item.OrderedQty.Mul(item.UnitCost))
	}
	total = subtotal.Add(tax).Add(shipping)
	return subtotal, total
}

func (input *NewPurchaseOrder) validate(ctx context.Context) error {
	if len(input.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if input.TaxAmount.IsNegative() || input.ShippingAmount.IsNegative() {
		return errors.New("tax and shipping cannot be negative")
	}
	seen := make(map[int]bool)
	var itemIds []int
	for _, item := range input.Items {
		if !item.OrderedQty.IsPositive() {
			return errors.New("ordered qty must be positive")
		}
		if item.UnitCost.IsNegative() {
			return errors.New("unit cost cannot be negative")
		}
		if seen[item.StockItemId] {
			return errors.New("duplicate stock item in order")
		}
		seen[item.StockItemId] = true
		itemIds = append(itemIds, item.StockItemId)
	}
	if err := utils.ValidateResourcesId[StockItem, int](ctx, itemIds); err != nil {
		return errors.New("stock item not found")
	}
	return nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	purchaseOrder := PurchaseOrder{
		SupplierName:         input.SupplierName,
		Status:               PurchaseOrderStatusDraft,
		TaxAmount:            input.TaxAmount,
		ShippingAmount:       input.ShippingAmount,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Notes:                input.Notes,
	}
	for _, item := range input.Items {
		purchaseOrder.Items = append(purchaseOrder.Items, PurchaseOrderItem{
			StockItemId: item.StockItemId,
			OrderedQty:  item.OrderedQty,
			UnitCost:    item.UnitCost,
		})
	}
	purchaseOrder.Subtotal, purchaseOrder.TotalAmount = ComputePurchaseOrderTotals(
		purchaseOrder.Items, input.TaxAmount, input.ShippingAmount)

	tx := db.Begin()

	seqNo, err := utils.GetSequence[PurchaseOrder](ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	purchaseOrder.SequenceNo = seqNo
	purchaseOrder.OrderNumber = "PO-" + fmt.Sprint(seqNo)

	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks
	// (leaked transactions are a common cause of MySQL 1205 lock wait timeouts).
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&purchaseOrder).Error; err != nil {
		return nil, err
	}

	if err := SaveHistoryCreate(tx.WithContext(ctx), "purchase_orders", purchaseOrder.ID, &purchaseOrder, "Purchase order "+purchaseOrder.OrderNumber+" created."); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &purchaseOrder, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	return utils.FetchModel[PurchaseOrder](ctx, id, "Items")
}

func GetPurchaseOrders(ctx context.Context) ([]*PurchaseOrder, error) {
	return utils.FetchAllModels[PurchaseOrder](ctx, "Items")
}

// validPoTransition is the forward path plus cancellation; received is only
// reachable through ReceivePurchaseOrder.
func validPoTransition(from, to PurchaseOrderStatus) bool {
	switch to {
	case PurchaseOrderStatusApproved:
		return from == PurchaseOrderStatusDraft
	case PurchaseOrderStatusOrdered:
		return from == PurchaseOrderStatusApproved
	case PurchaseOrderStatusCancelled:
		return !from.IsTerminal()
	default:
		return false
	}
}

// lockPurchaseOrder loads the order row FOR UPDATE with its items.
func lockPurchaseOrder(tx *gorm.DB, id int) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&po, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("purchase_order_id = ?", id).Find(&po.Items).Error; err != nil {
		return nil, err
	}
	return &po, nil
}

// UpdateStatusPurchaseOrder drives draft -> approved -> ordered and
// cancellation. Receiving is a separate operation because it moves stock.
func UpdateStatusPurchaseOrder(ctx context.Context, id int, status PurchaseOrderStatus) (*PurchaseOrder, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	po, err := lockPurchaseOrder(tx.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}

	if !validPoTransition(po.Status, status) {
		return nil, fmt.Errorf("%w: purchase order %s cannot move from %s to %s",
			ErrorInvalidTransition, po.OrderNumber, po.Status, status)
	}

	oldStatus := po.Status
	if err := tx.WithContext(ctx).Model(&PurchaseOrder{}).Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return nil, err
	}
	po.Status = status

	if err := SaveHistoryUpdate(tx.WithContext(ctx), "purchase_orders", po.ID, oldStatus, status,
		"Purchase order "+po.OrderNumber+" moved to "+string(status)+"."); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return po, nil
}

// ReceivePurchaseOrder posts delivered quantities. The whole request is
// validated against received_qty <= ordered_qty before any ledger write;
// one bad line rejects everything. Partial deliveries are fine, the order
// goes to received once every line is fully delivered.
func ReceivePurchaseOrder(ctx context.Context, id int, lines []ReceiveLine) (*PurchaseOrder, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if len(lines) == 0 {
		return nil, errors.New("at least one receive line is required")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	po, err := lockPurchaseOrder(tx.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}

	if po.Status != PurchaseOrderStatusApproved && po.Status != PurchaseOrderStatusOrdered {
		return nil, fmt.Errorf("%w: purchase order %s cannot be received in status %s",
			ErrorInvalidTransition, po.OrderNumber, po.Status)
	}

	itemsById := make(map[int]*PurchaseOrderItem, len(po.Items))
	for i := range po.Items {
		itemsById[po.Items[i].ID] = &po.Items[i]
	}

	// Validate every line before touching the ledger.
	seen := make(map[int]bool)
	for _, line := range lines {
		item, found := itemsById[line.PurchaseOrderItemId]
		if !found {
			return nil, fmt.Errorf("order line %d not found", line.PurchaseOrderItemId)
		}
		if seen[line.PurchaseOrderItemId] {
			return nil, fmt.Errorf("duplicate order line %d", line.PurchaseOrderItemId)
		}
		seen[line.PurchaseOrderItemId] = true
		if !line.Quantity.IsPositive() {
			return nil, errors.New("receive quantity must be positive")
		}
		if item.ReceivedQty.Add(line.Quantity).GreaterThan(item.OrderedQty) {
			return nil, fmt.Errorf("%w: line %d would receive %s of %s ordered",
				ErrorQuantityExceeded, item.ID,
				item.ReceivedQty.Add(line.Quantity), item.OrderedQty)
		}
	}

	for _, line := range lines {
		item := itemsById[line.PurchaseOrderItemId]

		if _, err := RecordMovement(tx.WithContext(ctx), NewStockMovement{
			StockItemId:   item.StockItemId,
			Type:          StockMovementTypeReceipt,
			QtyDelta:      line.Quantity,
			UnitCost:      item.UnitCost,
			ReferenceType: "purchase_orders",
			ReferenceId:   po.ID,
			UserId:        userId,
		}); err != nil {
			return nil, err
		}

		if err := tx.Exec("UPDATE purchase_order_items SET received_qty = received_qty + ? WHERE id = ?",
			line.Quantity, item.ID).Error; err != nil {
			return nil, err
		}
		item.ReceivedQty = item.ReceivedQty.Add(line.Quantity)
	}

	// Recalculate totals so total == subtotal + tax + shipping holds after
	// every receive.
	po.Subtotal, po.TotalAmount = ComputePurchaseOrderTotals(po.Items, po.TaxAmount, po.ShippingAmount)

	fullyReceived := true
	for _, item := range po.Items {
		if item.ReceivedQty.LessThan(item.OrderedQty) {
			fullyReceived = false
			break
		}
	}

	oldStatus := po.Status
	updates := map[string]interface{}{
		"subtotal":     po.Subtotal,
		"total_amount": po.TotalAmount,
		"status":       PurchaseOrderStatusOrdered,
	}
	po.Status = PurchaseOrderStatusOrdered
	if fullyReceived {
		now := time.Now().UTC()
		updates["status"] = PurchaseOrderStatusReceived
		updates["received_at"] = &now
		po.Status = PurchaseOrderStatusReceived
		po.ReceivedAt = &now
	}
	if err := tx.WithContext(ctx).Model(&PurchaseOrder{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := SaveHistoryUpdate(tx.WithContext(ctx), "purchase_orders", po.ID, oldStatus, po.Status,
		"Purchase order "+po.OrderNumber+" received stock."); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return po, nil
}
