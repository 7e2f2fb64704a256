package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockItem is a raw material. CurrentStock is a materialized balance over
// the stock_movements ledger; it is only ever written together with a
// movement insert (see RecordMovement).
type StockItem struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Sku               string          `gorm:"size:100;not null;uniqueIndex" json:"sku" binding:"required"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Unit              string          `gorm:"size:50" json:"unit"`
	CurrentStock      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	MinimumStockLevel decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock_level"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	IsAreaBased       *bool           `gorm:"not null;default:false" json:"is_area_based"`
	RollWidth         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"roll_width"`
	RollLength        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"roll_length"`
	IsActive          *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockItem struct {
	Sku               string          `json:"sku" binding:"required"`
	Name              string          `json:"name" binding:"required"`
	Unit              string          `json:"unit"`
	OpeningStock      decimal.Decimal `json:"opening_stock"`
	MinimumStockLevel decimal.Decimal `json:"minimum_stock_level"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	IsAreaBased       *bool           `json:"is_area_based"`
	RollWidth         decimal.Decimal `json:"roll_width"`
	RollLength        decimal.Decimal `json:"roll_length"`
}

func (item *StockItem) IsLowStock() bool {
	return item.CurrentStock.LessThanOrEqual(item.MinimumStockLevel)
}

func (input *NewStockItem) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[StockItem](ctx, "sku", input.Sku, id); err != nil {
		return errors.New("duplicate sku")
	}
	if input.OpeningStock.IsNegative() {
		return errors.New("opening stock cannot be negative")
	}
	if input.UnitCost.IsNegative() {
		return errors.New("unit cost cannot be negative")
	}
	return nil
}

func CreateStockItem(ctx context.Context, input *NewStockItem) (*StockItem, error) {
	db := config.GetDB()

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	stockItem := StockItem{
		Sku:               input.Sku,
		Name:              input.Name,
		Unit:              input.Unit,
		MinimumStockLevel: input.MinimumStockLevel,
		UnitCost:          input.UnitCost,
		IsAreaBased:       input.IsAreaBased,
		RollWidth:         input.RollWidth,
		RollLength:        input.RollLength,
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&stockItem).Error; err != nil {
		return nil, err
	}

	// Opening stock enters through the ledger like every other quantity.
	if input.OpeningStock.IsPositive() {
		if _, err := RecordMovement(tx.WithContext(ctx), NewStockMovement{
			StockItemId: stockItem.ID,
			Type:        StockMovementTypeAdjustment,
			QtyDelta:    input.OpeningStock,
			UnitCost:    input.UnitCost,
			Note:        "opening stock",
			UserId:      userId,
		}); err != nil {
			return nil, err
		}
		stockItem.CurrentStock = input.OpeningStock
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &stockItem, nil
}

func GetStockItem(ctx context.Context, id int) (*StockItem, error) {
	return utils.FetchModel[StockItem](ctx, id)
}

func GetStockItems(ctx context.Context) ([]*StockItem, error) {
	return utils.FetchAllModels[StockItem](ctx)
}

// GetLowStockItems lists items at or below their reorder threshold.
func GetLowStockItems(ctx context.Context) ([]*StockItem, error) {
	db := config.GetDB()
	var results []*StockItem
	err := db.WithContext(ctx).
		Where("current_stock <= minimum_stock_level").
		Where("is_active = ?", true).
		Order("sku ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// lockStockItem loads the item row FOR UPDATE inside tx. All balance writes
// must go through this lock to serialize concurrent ledger appends.
func lockStockItem(tx *gorm.DB, stockItemId int) (*StockItem, error) {
	var item StockItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, stockItemId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &item, nil
}
