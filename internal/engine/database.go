package engine

import (
	"gorm.io/gorm"

	"bourse/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) (*Database, error) {
	if err := db.AutoMigrate(&OrderRecord{}, &types.Trade{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// SaveOrder journals one submission.
func (d *Database) SaveOrder(o *types.Order) error {
	return d.db.Create(newOrderRecord(o)).Error
}

// SaveTrade journals one fill.
func (d *Database) SaveTrade(t *types.Trade) error {
	return d.db.Create(t).Error
}

// RecentTrades returns the latest fills for a symbol, newest first.
func (d *Database) RecentTrades(symbol string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("symbol = ?", symbol).
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
