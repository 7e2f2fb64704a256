// stock-rebuild recomputes every stock item's materialized balance from the
// movement ledger and reports drift. With --fix it repairs the balances and
// appends no movements: the ledger stays the source of truth.
//
// Usage:
//
//	go run ./cmd/stock-rebuild [--item-id N] [--fix]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"gorm.io/gorm"
)

type driftRow struct {
	StockItemId  int
	Sku          string
	CurrentStock decimal.Decimal
	LedgerStock  decimal.Decimal
}

func main() {
	itemID := flag.Int("item-id", 0, "Optional: limit to one stock item")
	fix := flag.Bool("fix", false, "Write the ledger-derived balance back to stock_items")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	query := `
		SELECT si.id AS stock_item_id, si.sku, si.current_stock,
		       COALESCE(SUM(sm.qty_delta), 0) AS ledger_stock
		FROM stock_items si
		LEFT JOIN stock_movements sm ON sm.stock_item_id = si.id`
	var args []interface{}
	if *itemID > 0 {
		query += " WHERE si.id = ?"
		args = append(args, *itemID)
	}
	query += " GROUP BY si.id, si.sku, si.current_stock"

	var rows []driftRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		fmt.Fprintf(os.Stderr, "scan balances: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, r := range rows {
		if r.CurrentStock.Equal(r.LedgerStock) {
			continue
		}
		drifted++
		fmt.Printf("drift item=%d sku=%s current=%s ledger=%s\n",
			r.StockItemId, r.Sku, r.CurrentStock, r.LedgerStock)

		if !*fix {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			// Re-derive under the row lock so a concurrent movement does not
			// get overwritten by a stale sum.
			if err := tx.Exec("SELECT id FROM stock_items WHERE id = ? FOR UPDATE", r.StockItemId).Error; err != nil {
				return err
			}
			var ledger decimal.Decimal
			if err := tx.Raw(
				"SELECT COALESCE(SUM(qty_delta), 0) FROM stock_movements WHERE stock_item_id = ?",
				r.StockItemId).Scan(&ledger).Error; err != nil {
				return err
			}
			return tx.Exec("UPDATE stock_items SET current_stock = ? WHERE id = ?",
				ledger, r.StockItemId).Error
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "fix item %d failed: %v\n", r.StockItemId, err)
			os.Exit(1)
		}
		fmt.Printf("fixed item=%d -> %s\n", r.StockItemId, r.LedgerStock)
	}

	if drifted == 0 {
		fmt.Println("no drift found")
	} else if !*fix {
		fmt.Printf("%d item(s) drifted; rerun with --fix to repair\n", drifted)
	}
}
